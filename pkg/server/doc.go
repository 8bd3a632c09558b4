// Package server exposes sessions over HTTP and websocket streams.
//
// A GET request renders a full page with its boot data embedded as a JSON
// script. A POST request carries a state token and input events and returns
// the re-rendered fragments with a fresh token. Neither keeps server state
// between requests.
//
// A websocket upgrade on any path opens a stream bound to one persistent
// session. The client sends an init message, then update messages:
//
//	{"type":"init","state_token":"...","enable_state_updates":false}
//	{"type":"update","events":[...],"location":"/path?q=1"}
//
// The server answers with update messages whenever the session has pending
// work:
//
//	{"type":"update","events":[...],"html_parts":["..."],"state_token":"..."}
//
// The token is included when the client asked for state updates or when the
// session is leaving streaming mode.
//
// Example:
//
//	srv, err := server.New(func() node.Element { return node.Mount(&App{}) }, resolver,
//	    server.DefaultConfig().WithAddress(":8080").WithWebSocket(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(srv.Run(ctx))
package server

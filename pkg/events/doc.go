// Package events defines the values exchanged with the client around a
// render pass: inbound [Input] events, the encoded [Descriptor] attribute
// that lets a client invoke a handler, and the [Output] intents (navigate,
// set-cookie, force-refresh, use-websocket, event-binding, custom) collected
// on a [Bus].
package events

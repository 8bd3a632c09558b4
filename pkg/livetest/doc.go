// Package livetest provides testing helpers for livetree components.
//
// A Harness runs a component tree in an in-process session, the way a
// connected client would see it, without any transport.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    h := livetest.New(t, func() node.Element { return node.Mount(&Counter{}) })
//	    h.ExpectContains("count=0")
//
//	    h.Trigger("click", "increment", nil)
//	    h.ExpectContains("count=1")
//	}
//
// Trigger finds the handler descriptor the rendered HTML carries for an
// event, so tests exercise exactly what a client could send.
//
// # Page Reloads
//
// Reload serializes the state into a token, destroys the session and
// restores a fresh one from the token:
//
//	h.Trigger("click", "increment", nil)
//	h.Reload()
//	h.ExpectContains("count=1")
//
// # Workers
//
// Persistent harnesses run jobs and workers. WaitFor blocks until the
// rendered HTML satisfies a condition:
//
//	h := livetest.New(t, app, livetest.Persistent())
//	h.WaitFor(func(html string) bool { return strings.Contains(html, "done") }, time.Second)
package livetest

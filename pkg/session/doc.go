// Package session drives one client's component tree through its
// request/response or streaming lifetime.
//
// A Session owns the state store, the output bus and the root node. The
// transport feeds it input events and reads back rendered HTML fragments,
// output events and a refreshed state token:
//
//	s := session.New(app, resolver, cfg)
//	defer s.Destroy(ctx)
//	s.SetLocation("/todos")
//	if err := s.Init(ctx, token); err != nil { ... }
//	if err := s.HandleEvents(ctx, evs); err != nil { ... }
//	if err := s.Update(ctx); err != nil { ... }
//	upd, err := s.RenderUpdate(ctx, true, false)
//
// Exchange and Page run those steps for a single stateless request.
//
// # Phases
//
// A session starts New, becomes Idle after Init and stays there between
// cycles. Any render failure moves it to Destroyed, which is terminal. Phase
// methods are serialized by a mutex; Wait is not, so one goroutine can block
// in Wait while another drives events.
//
// # Errors
//
// HandleEvents joins the errors of every rejected event; they match
// node.ErrInvalidEvent. Exchange turns those into ErrBadRequest. Render
// failures are reported as ErrRenderFailed wrapping a *node.RenderError.
package session

// Package node implements the component tree: stack addressing, the node
// lifecycle, components with their hooks, typed handlers, and typed state.
//
// # Addressing
//
// Every node sits at a [Stack] of keys. Its sid, a double SHA-256 digest of
// the stack, is both the client-visible element id and the namespace for the
// node's state. List items wrapped in [Keyed] replace their positional key
// with a stable one, so reordering keeps their sid and state.
//
// # Lifecycle
//
// A node is expanded once, may be updated any number of times, and is
// destroyed once. Updating a component destroys its children and renders
// them again from scratch; there is no diffing. Hooks run in this order:
//
//	Init, BeforeUpdate, Render, AfterUpdate   (first expand)
//	BeforeUpdate, Render, AfterUpdate         (every update)
//	BeforeDestroy, AfterDestroy               (destroy, children first)
//
// # Handlers
//
// Handlers are typed closures collected into a per-type [HandlerTable]:
//
//	var increment = node.NewHandler("increment", func(c *Counter, ctx *node.Context) error {
//		count.Update(ctx, func(n int) int { return n + 1 })
//		return nil
//	})
//
//	func (c *Counter) Handlers() *node.HandlerTable { return counterHandlers }
//
// ctx.On("click", increment) renders the attribute carrying the encoded
// descriptor the client sends back.
//
// # State
//
// [Local], [Global], [Scoped] and the in-place [Box] variants store JSON
// values in the session store. Reading subscribes the enclosing component;
// writing schedules every subscriber for the next update pass.
package node

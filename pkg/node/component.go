package node

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/vango-dev/livetree/pkg/events"
)

// Component is a user-authored render unit. Render may block; it should
// honor ctx.StdContext() for cancellation.
type Component interface {
	Render(ctx *Context) (Element, error)
}

// Initializer runs once, before the first render.
type Initializer interface {
	Init(ctx *Context) error
}

// BeforeUpdater runs before every render.
type BeforeUpdater interface {
	BeforeUpdate(ctx *Context) error
}

// AfterUpdater runs after every render once the new children are expanded.
type AfterUpdater interface {
	AfterUpdate(ctx *Context) error
}

// BeforeDestroyer runs after the children are destroyed and before the
// component's workers are cancelled.
type BeforeDestroyer interface {
	BeforeDestroy(ctx *Context)
}

// AfterDestroyer runs after the workers have stopped (or the grace period
// ran out) and before the subscriptions are released.
type AfterDestroyer interface {
	AfterDestroy(ctx *Context)
}

// HandlerSource exposes a component type's handler table.
type HandlerSource interface {
	Handlers() *HandlerTable
}

// ComponentFunc adapts a render function to the Component interface.
type ComponentFunc func(ctx *Context) (Element, error)

// Render calls f.
func (f ComponentFunc) Render(ctx *Context) (Element, error) { return f(ctx) }

// Mount returns the element that renders c.
func Mount(c Component) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &componentNode{
			base:   base{ctx: ctx.owned()},
			comp:   c,
			parent: ctx.comp,
		}
	})
}

type componentNode struct {
	base
	comp   Component
	parent string
	entry  *entry

	stdMu sync.Mutex
	std   context.Context
}

func (n *componentNode) currentStd() context.Context {
	n.stdMu.Lock()
	defer n.stdMu.Unlock()
	return n.std
}

// enter records the operation context for StdContext and returns a func
// restoring the previous one.
func (n *componentNode) enter(ctx context.Context) func() {
	n.stdMu.Lock()
	prev := n.std
	n.std = ctx
	n.stdMu.Unlock()
	return func() {
		n.stdMu.Lock()
		n.std = prev
		n.stdMu.Unlock()
	}
}

func (n *componentNode) Expand(ctx context.Context) error {
	switch n.phase {
	case expanded:
		return ErrAlreadyExpanded
	case destroyed:
		return ErrDestroyed
	}
	n.phase = expanded
	n.entry = n.ctx.rt.register(n, n.parent)

	defer n.enter(ctx)()

	if init, ok := n.comp.(Initializer); ok {
		if err := n.guard("init", func() error { return init.Init(n.ctx) }); err != nil {
			return err
		}
	}
	n.entry.tasks.start()

	return n.render(ctx)
}

func (n *componentNode) Update(ctx context.Context) error {
	if err := n.ready(); err != nil {
		return err
	}
	defer n.enter(ctx)()

	err := destroyAll(ctx, n.children)
	n.children = nil
	if err != nil {
		return err
	}
	return n.render(ctx)
}

func (n *componentNode) render(ctx context.Context) error {
	if bu, ok := n.comp.(BeforeUpdater); ok {
		if err := n.guard("before update", func() error { return bu.BeforeUpdate(n.ctx) }); err != nil {
			return err
		}
	}

	var inner Element
	err := n.guard("render", func() error {
		var err error
		inner, err = n.comp.Render(n.ctx)
		return err
	})
	if err != nil {
		return err
	}
	if inner == nil {
		inner = Fragment()
	}

	child := meta(n.ctx.sid, inner).ToNode(n.ctx.Sub(Name("inner")))
	n.children = []Node{child}
	if err := child.Expand(ctx); err != nil {
		return err
	}

	if au, ok := n.comp.(AfterUpdater); ok {
		return n.guard("after update", func() error { return au.AfterUpdate(n.ctx) })
	}
	return nil
}

func (n *componentNode) HandleEvent(ctx context.Context, ev events.Input) error {
	if err := n.ready(); err != nil {
		return err
	}

	var errs []error
	if ev.ContextID == n.ctx.sid {
		if err := n.dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if err := dispatchAll(ctx, n.children, ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// dispatch runs the named handler. Unknown handlers are dropped silently;
// only rejected parameters are reported.
func (n *componentNode) dispatch(ctx context.Context, ev events.Input) error {
	logger := n.ctx.rt.logger.With("sid", n.ctx.sid, "handler", ev.HandlerName)

	src, ok := n.comp.(HandlerSource)
	if !ok {
		logger.Debug("event for component without handlers dropped")
		return nil
	}
	h, ok := src.Handlers().Lookup(ev.HandlerName)
	if !ok {
		logger.Debug("unknown handler, event dropped")
		return nil
	}

	call, err := h.bind(n.comp, ev.Data)
	if errors.Is(err, errForeignComponent) {
		logger.Debug("handler of another component type, event dropped")
		return nil
	}
	if err != nil {
		return &EventError{ContextID: ev.ContextID, Handler: ev.HandlerName, Err: err}
	}

	defer n.enter(ctx)()
	if err := n.guard("handler "+ev.HandlerName, func() error { return call(n.ctx) }); err != nil {
		logger.Warn("handler failed", "error", err)
	}
	return nil
}

func (n *componentNode) Destroy(ctx context.Context) error {
	if n.phase == destroyed {
		return nil
	}
	wasExpanded := n.phase == expanded
	n.phase = destroyed

	defer n.enter(ctx)()

	err := destroyAll(ctx, n.children)
	n.children = nil
	if !wasExpanded {
		return err
	}

	if bd, ok := n.comp.(BeforeDestroyer); ok {
		n.hook("before destroy", func() { bd.BeforeDestroy(n.ctx) })
	}

	n.entry.tasks.stop(n.ctx.rt.config.WorkerGrace)

	if ad, ok := n.comp.(AfterDestroyer); ok {
		n.hook("after destroy", func() { ad.AfterDestroy(n.ctx) })
	}

	n.ctx.rt.unregister(n)
	return err
}

func (n *componentNode) Write(b *strings.Builder) {
	n.base.Write(b)
}

// guard runs user code, turning errors and panics into a RenderError.
func (n *componentNode) guard(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			n.ctx.rt.logger.Error("component panic",
				"sid", n.ctx.sid,
				"hook", hook,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = &RenderError{SID: n.ctx.sid, Stack: n.ctx.stack, Hook: hook, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &RenderError{SID: n.ctx.sid, Stack: n.ctx.stack, Hook: hook, Err: err}
	}
	return nil
}

// hook runs a destroy hook; failures are logged because teardown continues.
func (n *componentNode) hook(name string, fn func()) {
	if err := n.guard(name, func() error { fn(); return nil }); err != nil {
		n.ctx.rt.logger.Error("destroy hook failed", "sid", n.ctx.sid, "error", err)
	}
}

package node

import (
	"context"
	"encoding/json"

	"github.com/vango-dev/livetree/pkg/events"
)

// AddWindowEvent binds h to event on the client's window, e.g. "keydown".
// The binding is sent as an output event with the next render output.
func (c *Context) AddWindowEvent(event string, h *Handler, opts ...events.Option) {
	c.bind(false, event, "", h, opts)
}

// RemoveWindowEvent undoes AddWindowEvent.
func (c *Context) RemoveWindowEvent(event string, h *Handler) {
	c.bind(true, event, "", h, nil)
}

// AddSelectorEvent binds h to event on every element matching the CSS
// selector, wherever it is in the page.
func (c *Context) AddSelectorEvent(event, selector string, h *Handler, opts ...events.Option) {
	if selector == "" {
		c.Logger().Warn("selector event without selector, dropped", "event", event, "handler", h.name)
		return
	}
	c.bind(false, event, selector, h, opts)
}

// RemoveSelectorEvent undoes AddSelectorEvent.
func (c *Context) RemoveSelectorEvent(event, selector string, h *Handler) {
	if selector == "" {
		return
	}
	c.bind(true, event, selector, h, nil)
}

func (c *Context) bind(remove bool, event, selector string, h *Handler, opts []events.Option) {
	c.rt.output.Add(events.EventBinding{
		Remove:   remove,
		Event:    event,
		Selector: selector,
		Descriptor: events.Descriptor{
			ContextID:   c.comp,
			HandlerName: h.name,
			ParamMap:    h.params,
			Options:     events.NewOptions(opts...),
		},
	})
}

// WindowEvent is an element that keeps h bound to a window event while it
// is part of the tree. It renders nothing.
func WindowEvent(event string, h *Handler, opts ...events.Option) Element {
	return bindingElement(event, "", h, opts)
}

// SelectorEvent is WindowEvent for the elements matching selector.
func SelectorEvent(event, selector string, h *Handler, opts ...events.Option) Element {
	return bindingElement(event, selector, h, opts)
}

func bindingElement(event, selector string, h *Handler, opts []events.Option) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &bindingNode{base: base{ctx: ctx}, event: event, selector: selector, handler: h, opts: opts}
	})
}

// bindingNode adds its binding on expand and removes it on destroy.
type bindingNode struct {
	base
	event    string
	selector string
	handler  *Handler
	opts     []events.Option
}

func (n *bindingNode) Expand(ctx context.Context) error {
	if err := n.base.Expand(ctx); err != nil {
		return err
	}
	if n.selector == "" {
		n.ctx.AddWindowEvent(n.event, n.handler, n.opts...)
	} else {
		n.ctx.AddSelectorEvent(n.event, n.selector, n.handler, n.opts...)
	}
	return nil
}

func (n *bindingNode) Destroy(ctx context.Context) error {
	if n.phase == expanded {
		n.ctx.bind(true, n.event, n.selector, n.handler, nil)
	}
	return n.base.Destroy(ctx)
}

// NavigateOn returns an attribute that makes the client navigate to
// location on event without a server round-trip, e.g.
// NavigateOn("click", "/about") renders onclick="window.livetree.navigate(...)".
func NavigateOn(event, location string) Attr {
	raw, _ := json.Marshal(location)
	return A("on"+event, "window.livetree.navigate("+string(raw)+");")
}

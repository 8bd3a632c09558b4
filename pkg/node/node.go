package node

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/vango-dev/livetree/pkg/events"
)

// Node is the runtime form of a rendered element.
//
// Expand must run exactly once before Update or HandleEvent. Destroy tears
// down children before the node itself and is terminal.
type Node interface {
	// Context returns the node's position.
	Context() *Context

	// Expand finalizes the node's structure and expands its children.
	Expand(ctx context.Context) error

	// Update re-renders the subtree. Component nodes replace their children
	// wholesale; other nodes forward to their children.
	Update(ctx context.Context) error

	// HandleEvent dispatches ev depth-first. Rejected events are returned;
	// unknown targets are ignored.
	HandleEvent(ctx context.Context, ev events.Input) error

	// Destroy releases the subtree.
	Destroy(ctx context.Context) error

	// Write serializes the subtree.
	Write(b *strings.Builder)
}

type phase int

const (
	unexpanded phase = iota
	expanded
	destroyed
)

// base implements the structural behavior shared by every node.
type base struct {
	ctx      *Context
	children []Node
	phase    phase
}

func (n *base) Context() *Context { return n.ctx }

func (n *base) Expand(ctx context.Context) error {
	switch n.phase {
	case expanded:
		return ErrAlreadyExpanded
	case destroyed:
		return ErrDestroyed
	}
	n.phase = expanded
	return expandAll(ctx, n.children)
}

func (n *base) Update(ctx context.Context) error {
	if err := n.ready(); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := c.Update(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *base) HandleEvent(ctx context.Context, ev events.Input) error {
	if err := n.ready(); err != nil {
		return err
	}
	return dispatchAll(ctx, n.children, ev)
}

func (n *base) Destroy(ctx context.Context) error {
	if n.phase == destroyed {
		return nil
	}
	n.phase = destroyed
	err := destroyAll(ctx, n.children)
	n.children = nil
	return err
}

func (n *base) Write(b *strings.Builder) {
	for _, c := range n.children {
		c.Write(b)
	}
}

func (n *base) ready() error {
	switch n.phase {
	case unexpanded:
		return ErrNotExpanded
	case destroyed:
		return ErrDestroyed
	}
	return nil
}

func expandAll(ctx context.Context, nodes []Node) error {
	for _, c := range nodes {
		if err := c.Expand(ctx); err != nil {
			return err
		}
	}
	return nil
}

func dispatchAll(ctx context.Context, nodes []Node, ev events.Input) error {
	var errs []error
	for _, c := range nodes {
		if err := c.HandleEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func destroyAll(ctx context.Context, nodes []Node) error {
	var errs []error
	for _, c := range nodes {
		if err := c.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type fragmentNode struct{ base }

type textNode struct {
	base
	text string
}

func (n *textNode) Write(b *strings.Builder) {
	b.WriteString(html.EscapeString(n.text))
}

type rawNode struct {
	base
	html string
}

func (n *rawNode) Write(b *strings.Builder) {
	b.WriteString(n.html)
}

type elementNode struct {
	base
	tag   string
	attrs []Attr
	void  bool
}

func (n *elementNode) Write(b *strings.Builder) {
	writeOpenTag(b, n.tag, n.attrs)
	if n.void {
		return
	}
	n.base.Write(b)
	b.WriteString("</")
	b.WriteString(html.EscapeString(n.tag))
	b.WriteByte('>')
}

func writeOpenTag(b *strings.Builder, tag string, attrs []Attr) {
	b.WriteByte('<')
	b.WriteString(html.EscapeString(tag))
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(html.EscapeString(a.Name))
		if a.Bare {
			continue
		}
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Value))
		b.WriteByte('"')
	}
	b.WriteByte('>')
}

// lazyNode produces its only child when expanded.
type lazyNode struct {
	base
	produce func(*Context) Element
}

func (n *lazyNode) Expand(ctx context.Context) error {
	if n.phase == unexpanded && n.children == nil {
		n.children = []Node{n.produce(n.ctx).ToNode(n.ctx.Sub(Index(0)))}
	}
	return n.base.Expand(ctx)
}

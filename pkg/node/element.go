package node

import (
	"fmt"
)

// Element is a renderable description. ToNode binds it to a position.
type Element interface {
	ToNode(ctx *Context) Node
}

// ElementFunc adapts a function to the Element interface.
type ElementFunc func(ctx *Context) Node

// ToNode calls f.
func (f ElementFunc) ToNode(ctx *Context) Node { return f(ctx) }

// Attr is one attribute of an element. Bare attributes render without a
// value, e.g. "disabled".
type Attr struct {
	Name  string
	Value string
	Bare  bool
}

// A returns an attribute with a value.
func A(name, value string) Attr { return Attr{Name: name, Value: value} }

// Flag returns a bare attribute.
func Flag(name string) Attr { return Attr{Name: name, Bare: true} }

// Text renders escaped text.
func Text(s string) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &textNode{base: base{ctx: ctx}, text: s}
	})
}

// Textf renders escaped formatted text.
func Textf(format string, args ...any) Element {
	return Text(fmt.Sprintf(format, args...))
}

// Raw renders html without escaping.
func Raw(html string) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &rawNode{base: base{ctx: ctx}, html: html}
	})
}

// Fragment renders children without a wrapping tag.
func Fragment(children ...Element) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &fragmentNode{base: base{ctx: ctx, children: toNodes(ctx, children)}}
	})
}

// El renders a tag with attributes and content.
func El(tag string, attrs []Attr, content ...Element) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &elementNode{
			base:  base{ctx: ctx, children: toNodes(ctx, content)},
			tag:   tag,
			attrs: attrs,
		}
	})
}

// Void renders a tag that has no content or closing tag, e.g. input.
func Void(tag string, attrs ...Attr) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &elementNode{base: base{ctx: ctx}, tag: tag, attrs: attrs, void: true}
	})
}

// Keyed addresses el by key instead of by its position among its siblings,
// so reordering a list keeps each item's identity and state.
func Keyed(key string, el Element) Element {
	return ElementFunc(func(ctx *Context) Node {
		keyed, err := ctx.ReplaceIndex(key)
		if err != nil {
			ctx.rt.logger.Warn("keyed element without positional parent, using position",
				"key", key, "stack", ctx.stack.String(), "error", err)
			keyed = ctx
		}
		return el.ToNode(keyed)
	})
}

// Lazy defers building its content until the node expands.
func Lazy(fn func(ctx *Context) Element) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &lazyNode{base: base{ctx: ctx}, produce: fn}
	})
}

// Map renders one element per item.
func Map[T any](items []T, fn func(T) Element) Element {
	out := make([]Element, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return Fragment(out...)
}

// metaTag wraps every component's output so the client can address it.
const metaTag = "live-meta"

func meta(sid string, inner Element) Element {
	return El(metaTag, []Attr{A("id", sid)}, inner)
}

func toNodes(ctx *Context, elements []Element) []Node {
	nodes := make([]Node, 0, len(elements))
	for i, el := range elements {
		if el == nil {
			continue
		}
		nodes = append(nodes, el.ToNode(ctx.Sub(Index(i))))
	}
	return nodes
}

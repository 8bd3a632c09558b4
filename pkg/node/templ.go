package node

import (
	"context"
	"strings"

	"github.com/a-h/templ"
)

// Templ embeds a templ component. It is rendered once, when the node
// expands, with the operation's context.
func Templ(c templ.Component) Element {
	return ElementFunc(func(ctx *Context) Node {
		return &templNode{base: base{ctx: ctx}, comp: c}
	})
}

type templNode struct {
	base
	comp templ.Component
	html string
}

func (n *templNode) Expand(ctx context.Context) error {
	if err := n.base.Expand(ctx); err != nil {
		return err
	}
	var b strings.Builder
	if err := n.comp.Render(ctx, &b); err != nil {
		return &RenderError{SID: n.ctx.sid, Stack: n.ctx.stack, Hook: "templ", Err: err}
	}
	n.html = b.String()
	return nil
}

func (n *templNode) Write(b *strings.Builder) {
	b.WriteString(n.html)
}

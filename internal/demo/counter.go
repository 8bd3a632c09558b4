package demo

import "github.com/vango-dev/livetree/pkg/node"

var count = node.Local[int]("count")

// Counter is a number with increment, decrement and reset buttons.
type Counter struct{}

var (
	increment = node.NewHandler("increment", func(c *Counter, ctx *node.Context) error {
		count.Update(ctx, func(n int) int { return n + 1 })
		return nil
	})
	decrement = node.NewHandler("decrement", func(c *Counter, ctx *node.Context) error {
		count.Update(ctx, func(n int) int { return n - 1 })
		return nil
	})
	reset = node.NewHandler("reset", func(c *Counter, ctx *node.Context) error {
		count.Clear(ctx)
		return nil
	})
	counterHandlers = node.Handlers(increment, decrement, reset)
)

func (c *Counter) Handlers() *node.HandlerTable { return counterHandlers }

func (c *Counter) Render(ctx *node.Context) (node.Element, error) {
	return node.El("section", []node.Attr{node.A("class", "counter")},
		node.El("button", []node.Attr{ctx.On("click", decrement)}, node.Text("-")),
		node.El("output", nil, node.Textf("%d", count.Get(ctx))),
		node.El("button", []node.Attr{ctx.On("click", increment)}, node.Text("+")),
		node.El("button", []node.Attr{ctx.On("click", reset)}, node.Text("reset")),
	), nil
}

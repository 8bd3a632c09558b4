package demo

import (
	"context"
	"time"

	"github.com/vango-dev/livetree/pkg/node"
)

var now = node.Local[string]("now", node.Ephemeral())

// Clock shows the server time. It only ticks on a streaming session.
type Clock struct {
	Interval time.Duration
	Now      func() time.Time
}

func (c *Clock) Init(ctx *node.Context) error {
	now.Set(ctx, c.Now().Format(time.TimeOnly))
	ctx.AddWorker(func(std context.Context) error {
		t := time.NewTicker(c.Interval)
		defer t.Stop()
		for {
			select {
			case <-std.Done():
				return nil
			case <-t.C:
				now.Set(ctx, c.Now().Format(time.TimeOnly))
			}
		}
	})
	return nil
}

func (c *Clock) Render(ctx *node.Context) (node.Element, error) {
	return node.El("time", []node.Attr{node.A("class", "clock")}, node.Text(now.Get(ctx))), nil
}

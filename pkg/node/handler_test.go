package node

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-dev/livetree/pkg/events"
)

type echo struct {
	got *[]string
}

var (
	echoValue = NewParamHandler("echo", func(e *echo, ctx *Context, p struct {
		Value string `json:"value" param:"target.value"`
	}) error {
		*e.got = append(*e.got, p.Value)
		return nil
	})
	echoHandlers = Handlers(echoValue)
)

func (e *echo) Handlers() *HandlerTable { return echoHandlers }

func (e *echo) Render(ctx *Context) (Element, error) {
	return Void("input", ctx.On("input", echoValue)), nil
}

func TestParamHandlerRequiresEveryParameter(t *testing.T) {
	rt := newTestRuntime(false)
	var got []string
	n := mountRoot(t, rt, Mount(&echo{got: &got}))
	sid := n.Context().SID()
	ctx := context.Background()

	for _, data := range []map[string]any{nil, {}} {
		err := n.HandleEvent(ctx, events.Input{ContextID: sid, HandlerName: "echo", Data: data})
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for data %v, got %v", data, err)
		}
	}
	if len(got) != 0 {
		t.Fatalf("expected the handler not to run, got %q", got)
	}

	if err := n.HandleEvent(ctx, events.Input{ContextID: sid, HandlerName: "echo", Data: map[string]any{"value": ""}}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(got) != 1 || got[0] != "" {
		t.Errorf("expected an explicit empty value to be accepted, got %q", got)
	}
}

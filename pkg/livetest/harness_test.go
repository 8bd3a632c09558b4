package livetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
	"github.com/vango-dev/livetree/pkg/token"
)

var (
	clicks = node.Local[int]("clicks")
	draft  = node.Local[string]("draft", node.Ephemeral())
	ready  = node.Local[bool]("ready", node.Ephemeral())
)

type clicker struct {
	release chan struct{}
}

var (
	click = node.NewHandler("click", func(c *clicker, ctx *node.Context) error {
		clicks.Update(ctx, func(n int) int { return n + 1 })
		draft.Set(ctx, "typed")
		return nil
	})
	leave = node.NewHandler("leave", func(c *clicker, ctx *node.Context) error {
		ctx.Navigate("/elsewhere")
		return nil
	})
	clickerHandlers = node.Handlers(click, leave)
)

func (c *clicker) Handlers() *node.HandlerTable { return clickerHandlers }

func (c *clicker) Init(ctx *node.Context) error {
	if c.release == nil {
		return nil
	}
	ctx.AddWorker(func(std context.Context) error {
		select {
		case <-c.release:
			ready.Set(ctx, true)
		case <-std.Done():
		}
		return nil
	})
	return nil
}

func (c *clicker) Render(ctx *node.Context) (node.Element, error) {
	return node.El("div", []node.Attr{{Name: "data-path", Value: ctx.Path()}},
		node.El("button", []node.Attr{ctx.On("click", click)}, node.Textf("clicks=%d", clicks.Get(ctx))),
		node.El("a", []node.Attr{ctx.On("click", leave)}, node.Textf("draft=%s ready=%t", draft.Get(ctx), ready.Get(ctx))),
	), nil
}

func clickerApp() node.Element { return node.Mount(&clicker{}) }

func TestHarnessRendersAndTriggers(t *testing.T) {
	h := New(t, clickerApp, WithLocation("/start?x=1"))
	h.ExpectContains("clicks=0")
	h.ExpectElement("button")
	h.ExpectAttribute("data-path", "/start")

	h.Trigger("click", "click", nil)
	h.Trigger("click", "click", nil)
	h.ExpectContains("clicks=2")
	h.ExpectContains("draft=typed")
	h.ExpectNotContains("clicks=0")

	if got := len(h.Descriptors("click")); got != 2 {
		t.Errorf("expected 2 click descriptors, got %d", got)
	}
}

func TestHarnessUnknownHandler(t *testing.T) {
	h := New(t, clickerApp)
	err := h.TriggerErr("click", "missing", nil)
	if !errors.Is(err, ErrNoDescriptor) {
		t.Errorf("expected ErrNoDescriptor, got %v", err)
	}
}

func TestHarnessRejectsDataForPlainHandler(t *testing.T) {
	h := New(t, clickerApp)
	err := h.TriggerErr("click", "click", map[string]any{"extra": 1})
	if !errors.Is(err, node.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
	h.ExpectContains("clicks=0")
}

func TestHarnessOutputs(t *testing.T) {
	h := New(t, clickerApp)
	h.Trigger("click", "leave", nil)
	h.ExpectOutput(func(ev events.Output) bool {
		nav, ok := ev.(events.Navigate)
		return ok && nav.Location == "/elsewhere"
	})
	h.ExpectAttribute("data-path", "/elsewhere")
}

func TestHarnessReloadKeepsDurableState(t *testing.T) {
	h := New(t, clickerApp)
	h.Trigger("click", "click", nil)
	first := h.Session().ID()

	h.Reload()
	if h.Session().ID() == first {
		t.Error("expected a fresh session after reload")
	}
	h.ExpectContains("clicks=1")
	h.ExpectContains("draft= ")
}

func TestHarnessStartsFromToken(t *testing.T) {
	h := New(t, clickerApp)
	h.Trigger("click", "click", nil)
	tok := h.StateToken()
	if tok == "" {
		t.Fatal("expected a state token")
	}

	restored := New(t, clickerApp, WithStateToken(tok))
	restored.ExpectContains("clicks=1")
}

func TestHarnessSharedResolver(t *testing.T) {
	resolver, err := token.NewJWT([]byte("harness-shared-secret-0123"))
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	h := New(t, clickerApp, WithResolver(resolver))
	h.Trigger("click", "click", nil)
	h.Trigger("click", "click", nil)

	restored := New(t, clickerApp, WithResolver(resolver), WithStateToken(h.StateToken()))
	restored.ExpectContains("clicks=2")

	foreign := New(t, clickerApp, WithStateToken(h.StateToken()))
	foreign.ExpectContains("clicks=0")
}

func TestHarnessWaitForWorker(t *testing.T) {
	release := make(chan struct{})
	h := New(t, func() node.Element { return node.Mount(&clicker{release: release}) }, Persistent())
	h.ExpectContains("ready=false")

	close(release)
	h.WaitFor(func(html string) bool { return strings.Contains(html, "ready=true") }, 2*time.Second)
}

func TestHarnessHeaders(t *testing.T) {
	h := New(t, clickerApp, WithHeader("Cookie", "theme=dark"))
	cookie, ok := h.Session().Store().Peek(node.HeaderKey("cookie"))
	if !ok || cookie != "theme=dark" {
		t.Errorf("expected cookie header in state, got %q", cookie)
	}
}

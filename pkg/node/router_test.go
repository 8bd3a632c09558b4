package node

import (
	"context"
	"strings"
	"testing"

	"github.com/vango-dev/livetree/pkg/events"
)

func div(text string) func() Element {
	return func() Element { return El("div", nil, Text(text)) }
}

func routeTo(t *testing.T, rt *Runtime, location string) {
	t.Helper()
	rt.Store().Set(LocationKey, location)
	runUpdate(t, rt)
}

func TestRouterBasic(t *testing.T) {
	rt := newTestRuntime(false)
	router := NewRouter().
		Handle("/hello", div("hello")).
		Handle("/world", div("world"))

	rt.Store().Set(LocationKey, "/hello")
	n := mountRoot(t, rt, Mount(router))
	if out := writeNode(n); !strings.Contains(out, "<div>hello</div>") {
		t.Fatalf("expected hello, got %q", out)
	}

	routeTo(t, rt, "/world")
	if out := writeNode(n); !strings.Contains(out, "<div>world</div>") || strings.Contains(out, "hello") {
		t.Errorf("expected world only, got %q", out)
	}

	routeTo(t, rt, "/no")
	if out := writeNode(n); !strings.Contains(out, "<h1>Not found!</h1>") {
		t.Errorf("expected the default not found page, got %q", out)
	}

	if err := n.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestRouterVariablePaths(t *testing.T) {
	rt := newTestRuntime(false)
	router := NewRouter().
		Handle("/var/{value}", func() Element {
			return Mount(ComponentFunc(func(ctx *Context) (Element, error) {
				return Textf("var1=%s", ctx.RouteParam("value")), nil
			}))
		}).
		Handle("/var/{a}/{b}", func() Element {
			return Mount(ComponentFunc(func(ctx *Context) (Element, error) {
				p := ctx.RouteParams()
				return Textf("var2=%s,%s", p["a"], p["b"]), nil
			}))
		}).
		Handle("/{path*}", func() Element {
			return Mount(ComponentFunc(func(ctx *Context) (Element, error) {
				return Textf("not found: %s", ctx.RouteParam("path")), nil
			}))
		})

	rt.Store().Set(LocationKey, "/hello")
	n := mountRoot(t, rt, Mount(router))

	tests := []struct {
		location string
		want     string
	}{
		{"/hello", "not found: hello"},
		{"/var/1", "var1=1"},
		{"/var/1/2?x=y", "var2=1,2"},
		{"/var//3/", "var1=3"},
		{"/deep/er/path", "not found: deep/er/path"},
	}
	for _, tt := range tests {
		routeTo(t, rt, tt.location)
		if got := visibleText(n); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.location, tt.want, got)
		}
	}
}

func TestRouterNotFoundFallback(t *testing.T) {
	rt := newTestRuntime(false)
	router := NewRouter().
		Handle("/", div("home")).
		NotFound(div("gone"))

	rt.Store().Set(LocationKey, "/missing")
	n := mountRoot(t, rt, Mount(router))
	if got := visibleText(n); got != "gone" {
		t.Errorf("expected fallback, got %q", got)
	}

	routeTo(t, rt, "/../escape")
	if got := visibleText(n); got != "gone" {
		t.Errorf("expected uncanonicalizable path to fall back, got %q", got)
	}

	routeTo(t, rt, "/")
	if got := visibleText(n); got != "home" {
		t.Errorf("expected home, got %q", got)
	}
}

func TestRouterSeparatesRouteState(t *testing.T) {
	rt := newTestRuntime(false)
	page := func() Element { return Mount(&counter{}) }
	router := NewRouter().
		Handle("/a", page).
		Handle("/b", page)

	rt.Store().Set(LocationKey, "/a")
	n := mountRoot(t, rt, Mount(router))
	sid := counterSID(t, rt)
	for range 3 {
		if err := n.HandleEvent(context.Background(), events.Input{ContextID: sid, HandlerName: "increment"}); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}
	runUpdate(t, rt)
	if got := visibleText(n); got != "3" {
		t.Fatalf("expected count 3 on /a, got %q", got)
	}

	routeTo(t, rt, "/b")
	if got := visibleText(n); got != "0" {
		t.Errorf("expected /b to start fresh, got %q", got)
	}
	if counterSID(t, rt) == sid {
		t.Error("expected a different position for another route")
	}
}

func TestRouterMatch(t *testing.T) {
	router := NewRouter().Handle("/users/{id}", div("user"))

	pattern, params, ok := router.Match("/users//42/")
	if !ok || pattern != "/users/{id}" || params["id"] != "42" {
		t.Errorf("unexpected match %q %v %t", pattern, params, ok)
	}
	if _, _, ok := router.Match("/users"); ok {
		t.Error("expected no match")
	}
}

func TestHandleInvalidPatternPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	NewRouter().Handle("/{not valid}", div("x"))
}

func counterSID(t *testing.T, rt *Runtime) string {
	t.Helper()
	for sid, e := range rt.arena {
		if _, ok := e.node.comp.(*counter); ok {
			return sid
		}
	}
	t.Fatal("no counter mounted")
	return ""
}

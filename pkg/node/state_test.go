package node

import (
	"strings"
	"testing"

	"github.com/vango-dev/livetree/pkg/events"
)

var (
	theme = Scoped[string]("theme")
	todos = LocalBox[[]string]("todos")
	draft = Local[string]("draft", Ephemeral()).Default("empty")
)

type provider struct {
	child Component
}

func (p *provider) Init(ctx *Context) error {
	theme.Set(ctx, "dark")
	return nil
}

func (p *provider) Render(ctx *Context) (Element, error) {
	return Mount(p.child), nil
}

func TestScopedStateResolvesFromAncestor(t *testing.T) {
	rt := newTestRuntime(false)
	var seen string
	consumer := ComponentFunc(func(ctx *Context) (Element, error) {
		seen = theme.Get(ctx)
		return Text(seen), nil
	})
	n := mountRoot(t, rt, Mount(&provider{child: consumer}))

	if seen != "dark" {
		t.Fatalf("expected descendant to see provided value, got %q", seen)
	}

	theme.Set(n.Context(), "light")
	if got := runUpdate(t, rt); got != 1 {
		t.Errorf("expected one root, got %d", got)
	}
	if seen != "light" {
		t.Errorf("expected descendant to re-render with new value, got %q", seen)
	}
}

func TestBoxMutatesInPlace(t *testing.T) {
	rt := newTestRuntime(false)
	var rendered []string
	comp := ComponentFunc(func(ctx *Context) (Element, error) {
		rendered = todos.Get(ctx)
		return Textf("%d", len(rendered)), nil
	})
	n := mountRoot(t, rt, Mount(comp))

	todos.Mutate(n.Context(), func(v *[]string) { *v = append(*v, "a") })
	todos.Mutate(n.Context(), func(v *[]string) { *v = append(*v, "b") })
	runUpdate(t, rt)

	if strings.Join(rendered, ",") != "a,b" {
		t.Errorf("expected [a b], got %v", rendered)
	}
	snap := rt.Store().Snapshot()
	if snap[todos.key.instanceKey(n.Context().SID())] != `["a","b"]` {
		t.Errorf("expected serialized box in snapshot, got %v", snap)
	}
}

func TestBoxLoadsSerializedValue(t *testing.T) {
	rt := newTestRuntime(false)
	ctx := rt.RootContext().Sub(Name("c")).owned()
	rt.Store().Load(map[string]string{todos.key.instanceKey(ctx.SID()): `["x"]`})

	if got := todos.Get(ctx); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected [x], got %v", got)
	}
	todos.Mutate(ctx, func(v *[]string) { *v = append(*v, "y") })
	if got := todos.Get(ctx); len(got) != 2 {
		t.Errorf("expected mutation on loaded value, got %v", got)
	}
}

func TestEphemeralDefault(t *testing.T) {
	rt := newTestRuntime(false)
	ctx := rt.RootContext().Sub(Name("c")).owned()

	if got := draft.Get(ctx); got != "empty" {
		t.Errorf("expected default, got %q", got)
	}
	draft.Set(ctx, "hello")
	if !strings.HasPrefix(draft.Key(ctx), "#") {
		t.Errorf("expected ephemeral key, got %q", draft.Key(ctx))
	}
	if _, ok := rt.Store().Snapshot()[draft.Key(ctx)]; ok {
		t.Error("expected ephemeral state to stay out of the snapshot")
	}
}

func TestInvalidStateNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for reserved characters")
		}
	}()
	Local[int]("a;b")
}

func TestProtocolHelpers(t *testing.T) {
	rt := newTestRuntime(false)
	ctx := rt.RootContext().Sub(Name("c")).owned()
	store := rt.Store()
	store.Set(LocationKey, "/items?page=2")
	store.Set(HeaderKey("Cookie"), "theme=dark; sid=abc")
	store.Set(HeaderKey("Accept"), "text/html\napplication/json")

	if ctx.Path() != "/items" || ctx.Query().Get("page") != "2" {
		t.Errorf("unexpected location parts %q %v", ctx.Path(), ctx.Query())
	}
	if v, ok := ctx.Cookie("sid"); !ok || v != "abc" {
		t.Errorf("expected cookie sid=abc, got %q %v", v, ok)
	}
	if got := ctx.Header("accept"); len(got) != 2 {
		t.Errorf("expected two header values, got %v", got)
	}
}

func TestNavigateDeduplicates(t *testing.T) {
	rt := newTestRuntime(false)
	ctx := rt.RootContext().Sub(Name("c")).owned()

	ctx.Navigate("/a")
	ctx.Navigate("/b")
	ctx.Navigate("/a")

	out := rt.Output().Drain()
	if len(out) != 2 {
		t.Fatalf("expected 2 navigate events, got %d", len(out))
	}
	if out[0].(events.Navigate).Location != "/a" || out[1].(events.Navigate).Location != "/b" {
		t.Errorf("unexpected events %v", out)
	}
	if loc, _ := rt.Store().Peek(LocationKey); loc != "/a" {
		t.Errorf("expected location /a, got %q", loc)
	}
}

func TestCookieOutput(t *testing.T) {
	rt := newTestRuntime(false)
	ctx := rt.RootContext().Sub(Name("c")).owned()

	if err := ctx.SetCookie(events.Cookie{Name: "bad name"}); err == nil {
		t.Error("expected invalid cookie to be rejected")
	}
	if err := ctx.DeleteCookie("theme", "/"); err != nil {
		t.Fatalf("DeleteCookie: %v", err)
	}
	out := rt.Output().Drain()
	if len(out) != 1 {
		t.Fatalf("expected one event, got %d", len(out))
	}
	hc := out[0].(events.SetCookie).Cookie.HTTP()
	if hc.MaxAge >= 0 {
		t.Errorf("expected deleting cookie, got %+v", hc)
	}
	if hc.String() == "" || !strings.Contains(hc.String(), "theme=") {
		t.Errorf("unexpected header %q", hc.String())
	}
}

package node

import (
	"context"
	"strings"
	"testing"
)

var (
	itemCount = Local[int]("count")
	itemOrder = Global[[]string]("order")
)

type item struct {
	id      string
	inits   *int
	destroy *[]string
}

func (i *item) Init(ctx *Context) error {
	*i.inits++
	return nil
}

func (i *item) AfterDestroy(ctx *Context) {
	*i.destroy = append(*i.destroy, i.id)
}

func (i *item) Render(ctx *Context) (Element, error) {
	return Textf("%s=%d;", i.id, itemCount.Get(ctx)), nil
}

type itemList struct {
	inits   int
	destroy []string
}

func (l *itemList) Render(ctx *Context) (Element, error) {
	return Map(itemOrder.Get(ctx), func(id string) Element {
		return Keyed(id, Mount(&item{id: id, inits: &l.inits, destroy: &l.destroy}))
	}), nil
}

func itemSIDs(rt *Runtime) map[string]*Context {
	out := make(map[string]*Context)
	for _, e := range rt.arena {
		if it, ok := e.node.comp.(*item); ok {
			out[it.id] = e.node.ctx
		}
	}
	return out
}

func visibleText(n Node) string {
	out := writeNode(n)
	var b strings.Builder
	inTag := false
	for _, r := range out {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestKeyedReorderPreservesState(t *testing.T) {
	rt := newTestRuntime(false)
	list := &itemList{}
	rootCtx := rt.RootContext().Sub(Name("root"))
	itemOrder.Set(rootCtx, []string{"A", "B", "C"})

	n := mountRoot(t, rt, Mount(list))
	before := itemSIDs(rt)
	if len(before) != 3 {
		t.Fatalf("expected 3 items, got %d", len(before))
	}
	for i, id := range []string{"A", "B", "C"} {
		itemCount.Set(before[id], i+1)
	}
	runUpdate(t, rt)
	if got := visibleText(n); got != "A=1;B=2;C=3;" {
		t.Fatalf("unexpected output %q", got)
	}

	itemOrder.Set(rootCtx, []string{"C", "A", "B"})
	runUpdate(t, rt)

	if got := visibleText(n); got != "C=3;A=1;B=2;" {
		t.Fatalf("expected state to follow keys, got %q", got)
	}
	after := itemSIDs(rt)
	for id, ctx := range before {
		if after[id].SID() != ctx.SID() {
			t.Errorf("expected item %s to keep its sid across reorder", id)
		}
	}
}

func TestKeyedRemovalPurgesOnlyThatItem(t *testing.T) {
	rt := newTestRuntime(false)
	list := &itemList{}
	rootCtx := rt.RootContext().Sub(Name("root"))
	itemOrder.Set(rootCtx, []string{"A", "B", "C"})

	n := mountRoot(t, rt, Mount(list))
	sids := itemSIDs(rt)
	for i, id := range []string{"A", "B", "C"} {
		itemCount.Set(sids[id], i+1)
	}
	runUpdate(t, rt)

	itemOrder.Set(rootCtx, []string{"C", "A"})
	runUpdate(t, rt)

	if got := visibleText(n); got != "C=3;A=1;" {
		t.Fatalf("unexpected output %q", got)
	}
	store := rt.Store()
	if _, ok := store.Peek(itemCount.Key(sids["B"])); ok {
		t.Error("expected removed item's state to be purged")
	}
	for _, id := range []string{"A", "C"} {
		if _, ok := store.Peek(itemCount.Key(sids[id])); !ok {
			t.Errorf("expected state of %s to survive", id)
		}
	}
	if _, ok := store.Peek("order"); !ok {
		t.Error("expected global state to survive")
	}
}

func TestUnkeyedReorderFollowsPosition(t *testing.T) {
	rt := newTestRuntime(false)
	rootCtx := rt.RootContext().Sub(Name("root"))
	itemOrder.Set(rootCtx, []string{"A", "B"})

	var inits int
	var destroyed []string
	list := ComponentFunc(func(ctx *Context) (Element, error) {
		return Map(itemOrder.Get(ctx), func(id string) Element {
			return Mount(&item{id: id, inits: &inits, destroy: &destroyed})
		}), nil
	})
	n := mountRoot(t, rt, Mount(list))
	sids := itemSIDs(rt)
	itemCount.Set(sids["A"], 7)
	runUpdate(t, rt)

	itemOrder.Set(rootCtx, []string{"B", "A"})
	runUpdate(t, rt)

	// Without keys the state belongs to the first slot, whoever sits there.
	if got := visibleText(n); got != "B=7;A=0;" {
		t.Errorf("expected positional state, got %q", got)
	}
}

func TestKeyedWithoutIndexFallsBack(t *testing.T) {
	rt := newTestRuntime(false)
	n := Keyed("k", Text("x")).ToNode(rt.RootContext().Sub(Name("named")))
	if err := n.Expand(context.Background()); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if n.Context().SID() != rt.RootContext().Sub(Name("named")).SID() {
		t.Error("expected keyed element to fall back to its own position")
	}
}

func TestDuplicateKeyReleasesReplacedSubscriptions(t *testing.T) {
	rt := newTestRuntime(false)
	list := &itemList{}
	rootCtx := rt.RootContext().Sub(Name("root"))
	itemOrder.Set(rootCtx, []string{"A", "A"})

	n := mountRoot(t, rt, Mount(list))
	if got := rt.Components(); got != 2 {
		t.Fatalf("expected the list and one item registered, got %d", got)
	}
	key := itemCount.Key(itemSIDs(rt)["A"])
	if got := rt.Store().Subscribers(key); got != 1 {
		t.Fatalf("expected one subscriber on %s, got %d", key, got)
	}

	if err := n.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if got := rt.Store().Subscribers(key); got != 0 {
		t.Errorf("expected no subscribers after destroy, got %d", got)
	}
}

package node

import (
	"errors"
	"testing"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/state"
)

func TestStackSID(t *testing.T) {
	a := Stack{Name("root"), Index(0)}.SID()
	b := Stack{Name("root"), Index(0)}.SID()
	if a != b {
		t.Fatalf("expected deterministic sid, got %s and %s", a, b)
	}
	if len(a) != 2*sidBytes {
		t.Errorf("expected %d hex chars, got %d", 2*sidBytes, len(a))
	}
	if a == (Stack{Name("root"), Index(1)}).SID() {
		t.Error("expected different positions to hash differently")
	}

	if (Stack{Name("a;"), Name("b")}).SID() == (Stack{Name("a"), Name(";b")}).SID() {
		t.Error("expected separators inside names to keep stacks distinct")
	}
	if (Stack{Name("3")}).SID() == (Stack{Index(3)}).SID() {
		t.Error("expected a name and an index with the same text to differ")
	}
}

func TestContextSubAndStackSIDs(t *testing.T) {
	rt := NewRuntime(state.NewStore(), events.NewBus(nil), RuntimeConfig{})
	root := rt.RootContext()
	child := root.Sub(Name("root")).Sub(Index(2))

	sids := child.StackSIDs()
	if len(sids) != 3 {
		t.Fatalf("expected 3 sids (empty, root, 2), got %d", len(sids))
	}
	if sids[0] != root.SID() || sids[2] != child.SID() {
		t.Error("expected stack sids to run from root to self")
	}
	if child.Stack().String() != "root/2" {
		t.Errorf("unexpected stack %q", child.Stack().String())
	}
}

func TestContextReplaceIndex(t *testing.T) {
	rt := NewRuntime(state.NewStore(), events.NewBus(nil), RuntimeConfig{})
	list := rt.RootContext().Sub(Name("list"))

	first, err := list.Sub(Index(0)).ReplaceIndex("a")
	if err != nil {
		t.Fatalf("ReplaceIndex: %v", err)
	}
	second, err := list.Sub(Index(5)).ReplaceIndex("a")
	if err != nil {
		t.Fatalf("ReplaceIndex: %v", err)
	}
	if first.SID() != second.SID() {
		t.Error("expected keyed contexts to be independent of position")
	}
	if got := first.StackSIDs(); got[len(got)-1] != first.SID() || got[len(got)-2] != list.SID() {
		t.Error("expected stack sids to follow the replaced key")
	}

	if _, err := list.ReplaceIndex("x"); !errors.Is(err, ErrNoIndex) {
		t.Errorf("expected ErrNoIndex for named segment, got %v", err)
	}
}

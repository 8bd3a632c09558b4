package state

import (
	"reflect"
	"testing"
)

func TestStoreSetNotifiesSubscribers(t *testing.T) {
	s := NewStore()
	s.Subscribe("a", "count")
	s.Subscribe("b", "count")
	s.Subscribe("c", "other")

	if !s.Set("count", "1") {
		t.Fatal("expected first Set to report a change")
	}

	got := s.PopPendingUpdates()
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected pending %v, got %v", want, got)
	}
	if s.Pending() {
		t.Error("expected dirty set to be empty after pop")
	}
}

func TestStoreSetUnchangedIsNoop(t *testing.T) {
	s := NewStore()
	s.Set("count", "1")
	s.Subscribe("a", "count")

	if s.Set("count", "1") {
		t.Error("expected Set with same value to report no change")
	}
	if s.Pending() {
		t.Error("expected no pending update for unchanged value")
	}
}

func TestStoreWritesCoalesce(t *testing.T) {
	s := NewStore()
	s.Subscribe("a", "x")
	s.Subscribe("a", "y")

	for i := 0; i < 10; i++ {
		s.Set("x", string(rune('0'+i)))
		s.Set("y", string(rune('a'+i)))
	}

	got := s.PopPendingUpdates()
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("expected a single pending entry, got %v", got)
	}
}

func TestStoreSignal(t *testing.T) {
	sig := NewSignal()
	s := NewStore(WithSignal(sig))

	s.Set("unwatched", "1")
	select {
	case <-sig.C():
		t.Fatal("expected no wakeup without subscribers")
	default:
	}

	s.Subscribe("a", "k")
	s.Set("k", "v")
	s.Set("k", "w")
	select {
	case <-sig.C():
	default:
		t.Fatal("expected wakeup after notifying write")
	}
	select {
	case <-sig.C():
		t.Fatal("expected wakeups to coalesce")
	default:
	}

	s.RequestUpdate("b")
	select {
	case <-sig.C():
	default:
		t.Fatal("expected wakeup after RequestUpdate")
	}
}

func TestSubscriptionRefCount(t *testing.T) {
	s := NewStore()
	first := s.Subscribe("a", "k")
	second := s.Subscribe("a", "k")

	first.Unsubscribe()
	first.Unsubscribe()
	if n := s.Subscribers("k"); n != 1 {
		t.Fatalf("expected 1 subscriber while a handle is live, got %d", n)
	}

	second.Unsubscribe()
	if n := s.Subscribers("k"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}

	s.Set("k", "v")
	if s.Pending() {
		t.Error("expected no pending update after unsubscribe")
	}
}

func TestStoreCleanupEphemeral(t *testing.T) {
	s := NewStore()
	s.Set("#orphan", "1")
	s.Set("#watched", "2")
	s.Set("durable", "3")
	s.Set("!location", "/")
	sub := s.Subscribe("a", "#watched")

	removed := s.Cleanup()
	if !reflect.DeepEqual(removed, []string{"#orphan"}) {
		t.Errorf("expected only #orphan removed, got %v", removed)
	}
	if _, ok := s.Peek("durable"); !ok {
		t.Error("durable key must never be purged implicitly")
	}
	if _, ok := s.Peek("!location"); !ok {
		t.Error("protocol key must survive default cleanup")
	}

	sub.Unsubscribe()
	removed = s.Cleanup()
	if !reflect.DeepEqual(removed, []string{"#watched"}) {
		t.Errorf("expected #watched removed after unsubscribe, got %v", removed)
	}
}

func TestStoreSnapshotExcludesNamespaces(t *testing.T) {
	s := NewStore()
	s.Load(map[string]string{"a": `1`, "#tmp": `2`, "!location": `"/"`})
	s.SetProducer("lazy", ProducerFunc(func() string { return `"produced"` }))

	got := s.Snapshot()
	want := map[string]string{"a": `1`, "lazy": `"produced"`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected snapshot %v, got %v", want, got)
	}
}

func TestStoreProducerAlwaysNotifies(t *testing.T) {
	s := NewStore()
	p := ProducerFunc(func() string { return "x" })
	s.Subscribe("a", "box")

	s.SetProducer("box", p)
	s.PopPendingUpdates()
	s.SetProducer("box", p)

	if !s.Pending() {
		t.Error("expected producer write to notify even when unchanged")
	}
	if v, ok := s.Peek("box"); !ok || v != "x" {
		t.Errorf("expected produced value x, got %q (%v)", v, ok)
	}
	if _, ok := s.PeekProducer("box"); !ok {
		t.Error("expected PeekProducer to return the producer")
	}
}

func TestStoreDeleteAndPurge(t *testing.T) {
	s := NewStore()
	s.Set("k", "v")
	s.Subscribe("a", "k")

	if !s.Delete("k") {
		t.Fatal("expected Delete to report existing key")
	}
	if s.Delete("k") {
		t.Error("expected second Delete to report nothing removed")
	}
	if got := s.PopPendingUpdates(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("expected delete to notify a, got %v", got)
	}

	s.Set("sid1;count", "1")
	s.Set("sid2;count", "2")
	removed := s.Purge(func(key string) bool { return key == "sid1;count" })
	if !reflect.DeepEqual(removed, []string{"sid1;count"}) {
		t.Errorf("unexpected purge result %v", removed)
	}
	if keys := s.Keys("sid"); !reflect.DeepEqual(keys, []string{"sid2;count"}) {
		t.Errorf("expected sid2 state to remain, got %v", keys)
	}
}

func TestNamespaces(t *testing.T) {
	tests := []struct {
		key                          string
		ephemeral, protocol, durable bool
	}{
		{"#x", true, false, false},
		{"!location", false, true, false},
		{"count", false, false, true},
	}
	for _, tt := range tests {
		if IsEphemeral(tt.key) != tt.ephemeral || IsProtocol(tt.key) != tt.protocol || IsDurable(tt.key) != tt.durable {
			t.Errorf("wrong namespace classification for %q", tt.key)
		}
	}
}

package node

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/vango-dev/livetree/pkg/state"
)

// scope decides which store key a typed state uses.
type scope int

const (
	localScope scope = iota
	globalScope
	contextScope
)

// StateOption configures a typed state declaration.
type StateOption func(*stateKey)

// Ephemeral keeps the value out of the state token. It is dropped once no
// live component reads it.
func Ephemeral() StateOption {
	return func(k *stateKey) { k.prefix = state.EphemeralPrefix }
}

type stateKey struct {
	name   string
	scope  scope
	prefix string
}

func newStateKey(name string, sc scope, opts []StateOption) stateKey {
	if name == "" || strings.ContainsAny(name, ";!#") {
		panic(fmt.Sprintf("node: invalid state name %q", name))
	}
	k := stateKey{name: name, scope: sc}
	for _, opt := range opts {
		opt(&k)
	}
	return k
}

func (k stateKey) instanceKey(sid string) string {
	return k.prefix + sid + ";" + k.name
}

// resolve returns the store key for ctx, subscribing to every candidate
// checked on the way.
func (k stateKey) resolve(ctx *Context) string {
	switch k.scope {
	case globalScope:
		return k.prefix + k.name
	case contextScope:
		sids := ctx.sids
		for i := len(sids) - 1; i >= 0; i-- {
			key := k.instanceKey(sids[i])
			if _, ok := ctx.Get(key); ok {
				return key
			}
		}
		return k.instanceKey(ctx.comp)
	default:
		return k.instanceKey(ctx.comp)
	}
}

// Value is typed state stored as JSON under a scoped key.
type Value[T any] struct {
	key stateKey
	def T
}

// Local declares state private to each component instance. Its key lives
// in the instance's sid namespace and is purged when the instance goes away.
func Local[T any](name string, opts ...StateOption) Value[T] {
	return Value[T]{key: newStateKey(name, localScope, opts)}
}

// Global declares state shared by every component of the session.
func Global[T any](name string, opts ...StateOption) Value[T] {
	return Value[T]{key: newStateKey(name, globalScope, opts)}
}

// Scoped declares state provided by an ancestor. Reads walk from the
// reading position up to the root and use the nearest instance holding a
// value; a component that holds none provides it for its descendants on
// first write.
func Scoped[T any](name string, opts ...StateOption) Value[T] {
	return Value[T]{key: newStateKey(name, contextScope, opts)}
}

// Default returns a copy of v that reads as def while unset.
func (v Value[T]) Default(def T) Value[T] {
	v.def = def
	return v
}

// Key returns the store key v resolves to at ctx.
func (v Value[T]) Key(ctx *Context) string {
	return v.key.resolve(ctx)
}

// Get reads the value and subscribes the enclosing component.
func (v Value[T]) Get(ctx *Context) T {
	key := v.key.resolve(ctx)
	raw, ok := ctx.Get(key)
	if !ok {
		return v.def
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		ctx.Logger().Warn("undecodable state, using default", "key", key, "error", err)
		return v.def
	}
	return out
}

// Set writes the value. It reports whether the stored value changed.
func (v Value[T]) Set(ctx *Context, value T) bool {
	key := v.key.resolve(ctx)
	raw, err := json.Marshal(value)
	if err != nil {
		ctx.Logger().Error("unencodable state, write dropped", "key", key, "error", err)
		return false
	}
	return ctx.Set(key, string(raw))
}

// Update replaces the value with fn applied to the current one.
func (v Value[T]) Update(ctx *Context, fn func(T) T) bool {
	return v.Set(ctx, fn(v.Get(ctx)))
}

// Clear deletes the value.
func (v Value[T]) Clear(ctx *Context) bool {
	return ctx.Delete(v.key.resolve(ctx))
}

// Box is typed state that is mutated in place. The store holds the live
// value behind a producer and serializes it only when a snapshot is taken.
type Box[T any] struct {
	key stateKey
}

// LocalBox declares an in-place value private to each component instance.
func LocalBox[T any](name string, opts ...StateOption) Box[T] {
	return Box[T]{key: newStateKey(name, localScope, opts)}
}

// GlobalBox declares an in-place value shared by the session.
func GlobalBox[T any](name string, opts ...StateOption) Box[T] {
	return Box[T]{key: newStateKey(name, globalScope, opts)}
}

type boxed[T any] struct {
	mu sync.Mutex
	v  T
}

func (b *boxed[T]) Produce() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, err := json.Marshal(b.v)
	if err != nil {
		return "null"
	}
	return string(raw)
}

// Get returns a copy of the current value and subscribes the enclosing
// component.
func (b Box[T]) Get(ctx *Context) T {
	bx := b.load(ctx)
	bx.mu.Lock()
	defer bx.mu.Unlock()
	return bx.v
}

// Mutate applies fn to the live value and schedules every reader.
func (b Box[T]) Mutate(ctx *Context, fn func(v *T)) {
	bx := b.load(ctx)
	bx.mu.Lock()
	fn(&bx.v)
	bx.mu.Unlock()
	ctx.rt.store.SetProducer(b.key.resolve(ctx), bx)
}

func (b Box[T]) load(ctx *Context) *boxed[T] {
	key := b.key.resolve(ctx)
	raw, ok := ctx.Get(key)

	store := ctx.rt.store
	if p, ok := store.PeekProducer(key); ok {
		if bx, ok := p.(*boxed[T]); ok {
			return bx
		}
	}

	bx := &boxed[T]{}
	if ok {
		if err := json.Unmarshal([]byte(raw), &bx.v); err != nil {
			ctx.Logger().Warn("undecodable boxed state, starting from zero", "key", key, "error", err)
		}
		store.Materialize(key, bx)
	}
	return bx
}

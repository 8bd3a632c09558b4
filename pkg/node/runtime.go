package node

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/state"
)

// DefaultWorkerGrace bounds how long destroy waits for cancelled workers.
const DefaultWorkerGrace = 2 * time.Second

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	// Persistent enables jobs and workers.
	Persistent bool

	// WorkerGrace bounds the wait for cancelled workers and jobs.
	// Default: DefaultWorkerGrace.
	WorkerGrace time.Duration

	// Logger receives lifecycle diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Runtime is the per-session environment shared by every node: the state
// store, the output bus, and the arena of live component nodes.
//
// The arena maps a component sid to its node and its parent component's sid.
// Nodes own their children directly; upward relations are only ever
// expressed as sids resolved through the arena.
type Runtime struct {
	store  *state.Store
	output *events.Bus
	config RuntimeConfig
	logger *slog.Logger

	mu       sync.Mutex
	arena    map[string]*entry
	released map[string]struct{}

	lifetime context.Context
	cancel   context.CancelFunc
	jobs     sync.WaitGroup
}

type entry struct {
	node   *componentNode
	parent string
	subs   map[string]*state.Subscription
	tasks  *taskSet
}

// NewRuntime creates a runtime around a store and an output bus.
func NewRuntime(store *state.Store, output *events.Bus, cfg RuntimeConfig) *Runtime {
	if cfg.WorkerGrace <= 0 {
		cfg.WorkerGrace = DefaultWorkerGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Runtime{
		store:    store,
		output:   output,
		config:   cfg,
		logger:   cfg.Logger,
		arena:    make(map[string]*entry),
		released: make(map[string]struct{}),
		lifetime: lifetime,
		cancel:   cancel,
	}
}

// Store returns the session store.
func (r *Runtime) Store() *state.Store { return r.store }

// Output returns the output-event bus.
func (r *Runtime) Output() *events.Bus { return r.output }

// Persistent reports whether jobs and workers run.
func (r *Runtime) Persistent() bool { return r.config.Persistent }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// RootContext returns the context with an empty stack.
func (r *Runtime) RootContext() *Context {
	stack := Stack{}
	sid := stack.SID()
	return &Context{rt: r, stack: stack, sid: sid, sids: []string{sid}}
}

// Lookup returns the live component node registered under sid.
func (r *Runtime) Lookup(sid string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.arena[sid]
	if !ok {
		return nil, false
	}
	return e.node, true
}

// Components returns the number of live component nodes.
func (r *Runtime) Components() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arena)
}

// UpdateRoots maps pending sids to live component nodes, dropping sids with
// no live node and sids that have a pending ancestor (their subtree is
// rebuilt by the ancestor anyway). Shallower nodes come first.
func (r *Runtime) UpdateRoots(pending []string) []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]struct{}, len(pending))
	for _, sid := range pending {
		set[sid] = struct{}{}
	}

	var roots []*componentNode
	for _, sid := range pending {
		e, ok := r.arena[sid]
		if !ok {
			continue
		}
		if r.hasPendingAncestorLocked(e, set) {
			continue
		}
		roots = append(roots, e.node)
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return len(roots[i].ctx.stack) < len(roots[j].ctx.stack)
	})

	out := make([]Node, len(roots))
	for i, n := range roots {
		out[i] = n
	}
	return out
}

func (r *Runtime) hasPendingAncestorLocked(e *entry, pending map[string]struct{}) bool {
	for parent := e.parent; parent != ""; {
		if _, ok := pending[parent]; ok {
			return true
		}
		pe, ok := r.arena[parent]
		if !ok {
			return false
		}
		parent = pe.parent
	}
	return false
}

// SweepReleased purges the instance state of every component that was
// destroyed and not registered again since the last sweep. It returns the
// purged keys.
func (r *Runtime) SweepReleased() []string {
	r.mu.Lock()
	gone := make(map[string]struct{}, len(r.released))
	for sid := range r.released {
		if _, live := r.arena[sid]; !live {
			gone[sid] = struct{}{}
		}
	}
	r.released = make(map[string]struct{})
	r.mu.Unlock()

	if len(gone) == 0 {
		return nil
	}
	return r.store.Purge(func(key string) bool {
		_, ok := gone[ownerOf(key)]
		return ok
	})
}

// ownerOf returns the sid namespace of an instance key ("[#]sid;name").
func ownerOf(key string) string {
	key = strings.TrimPrefix(key, state.EphemeralPrefix)
	i := strings.IndexByte(key, ';')
	if i <= 0 {
		return ""
	}
	return key[:i]
}

// Close cancels every job and waits for them within the worker grace.
func (r *Runtime) Close() {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.config.WorkerGrace):
		r.logger.Warn("jobs still running after grace period", "grace", r.config.WorkerGrace)
	}
}

// register adds n to the arena. A node already registered under the same
// sid loses its subscriptions; its later destroy no longer touches the arena.
func (r *Runtime) register(n *componentNode, parent string) *entry {
	r.mu.Lock()
	sid := n.ctx.sid
	var stale map[string]*state.Subscription
	if old, ok := r.arena[sid]; ok && old.node != n {
		r.logger.Warn("duplicate component sid, replacing registration",
			"sid", sid, "stack", n.ctx.stack.String())
		stale = old.subs
		old.subs = nil
	}
	e := &entry{
		node:   n,
		parent: parent,
		subs:   make(map[string]*state.Subscription),
		tasks:  newTaskSet(r, sid),
	}
	r.arena[sid] = e
	delete(r.released, sid)
	r.mu.Unlock()

	for _, sub := range stale {
		sub.Unsubscribe()
	}
	return e
}

// unregister releases n's subscriptions and removes it from the arena.
func (r *Runtime) unregister(n *componentNode) {
	r.mu.Lock()
	sid := n.ctx.sid
	e, ok := r.arena[sid]
	if !ok || e.node != n {
		r.mu.Unlock()
		return
	}
	delete(r.arena, sid)
	r.released[sid] = struct{}{}
	subs := e.subs
	e.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (r *Runtime) entry(sid string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.arena[sid]
	return e, ok
}

// subscribe registers sid on key once for the lifetime of its node.
func (r *Runtime) subscribe(sid, key string) {
	if sid == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.arena[sid]
	if !ok || e.subs == nil {
		return
	}
	if _, ok := e.subs[key]; ok {
		return
	}
	e.subs[key] = r.store.Subscribe(sid, key)
}

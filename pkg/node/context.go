package node

import (
	"context"
	"log/slog"
)

// Context addresses one position in the node tree and scopes store access
// to the component that encloses it.
//
// A Context is immutable once created; deriving a child returns a new value.
// State read through a Context subscribes the nearest enclosing component,
// so writes to that state schedule exactly that component for re-render.
type Context struct {
	rt    *Runtime
	stack Stack
	sid   string

	// sids of every prefix of stack, root first, including sid itself.
	sids []string

	// comp is the sid of the nearest enclosing component, or the node's own
	// sid for a component context. Empty outside any component.
	comp string

	// params are the route parameters bound by the nearest Router.
	params map[string]string
}

// Runtime returns the session runtime.
func (c *Context) Runtime() *Runtime { return c.rt }

// Stack returns a copy of the context's stack.
func (c *Context) Stack() Stack {
	out := make(Stack, len(c.stack))
	copy(out, c.stack)
	return out
}

// SID returns the stable id of this position.
func (c *Context) SID() string { return c.sid }

// StackSIDs returns the sid of every ancestor position, root first, ending
// with this context's own sid.
func (c *Context) StackSIDs() []string {
	out := make([]string, len(c.sids))
	copy(out, c.sids)
	return out
}

// Component returns the sid of the enclosing component.
func (c *Context) Component() string { return c.comp }

// Sub returns the child context at key.
func (c *Context) Sub(key Key) *Context {
	stack := c.stack.with(key)
	sid := stack.SID()

	sids := make([]string, len(c.sids), len(c.sids)+1)
	copy(sids, c.sids)

	return &Context{
		rt:     c.rt,
		stack:  stack,
		sid:    sid,
		sids:   append(sids, sid),
		comp:   c.comp,
		params: c.params,
	}
}

// ReplaceIndex returns a context whose trailing positional segment is
// replaced by name, so the position is addressed by a stable key instead of
// its index.
func (c *Context) ReplaceIndex(name string) (*Context, error) {
	n := len(c.stack)
	if n == 0 || !c.stack[n-1].positional {
		return nil, ErrNoIndex
	}

	stack := make(Stack, n)
	copy(stack, c.stack)
	stack[n-1] = Name(name)
	sid := stack.SID()

	sids := make([]string, len(c.sids))
	copy(sids, c.sids)
	sids[len(sids)-1] = sid

	return &Context{rt: c.rt, stack: stack, sid: sid, sids: sids, comp: c.comp, params: c.params}, nil
}

// owned returns a copy of c that is the context of a component node.
func (c *Context) owned() *Context {
	cp := *c
	cp.comp = c.sid
	return &cp
}

// Persistent reports whether the session keeps running between exchanges.
func (c *Context) Persistent() bool { return c.rt.Persistent() }

// Logger returns the runtime logger annotated with this position.
func (c *Context) Logger() *slog.Logger {
	return c.rt.logger.With("sid", c.sid)
}

// StdContext returns the context of the operation currently running on the
// enclosing component (expand, update, or event dispatch). Outside of one it
// returns the session lifetime context.
func (c *Context) StdContext() context.Context {
	if e, ok := c.rt.entry(c.comp); ok {
		if std := e.node.currentStd(); std != nil {
			return std
		}
	}
	return c.rt.lifetime
}

// Get reads key and subscribes the enclosing component to it.
func (c *Context) Get(key string) (string, bool) {
	c.rt.subscribe(c.comp, key)
	return c.rt.store.Peek(key)
}

// Set writes key. Subscribers are scheduled only if the value changed.
func (c *Context) Set(key, value string) bool {
	return c.rt.store.Set(key, value)
}

// Delete removes key.
func (c *Context) Delete(key string) bool {
	return c.rt.store.Delete(key)
}

// RequestUpdate schedules the enclosing component for re-render.
func (c *Context) RequestUpdate() {
	if c.comp == "" {
		return
	}
	c.rt.store.RequestUpdate(c.comp)
}

// AddJob registers a run-to-completion task on the enclosing component.
// It only runs when the session is persistent.
func (c *Context) AddJob(fn TaskFunc) {
	c.addTask(jobTask, fn)
}

// AddWorker registers a task that runs until the enclosing component is
// destroyed. It only runs when the session is persistent.
func (c *Context) AddWorker(fn TaskFunc) {
	c.addTask(workerTask, fn)
}

func (c *Context) addTask(kind taskKind, fn TaskFunc) {
	e, ok := c.rt.entry(c.comp)
	if !ok {
		c.rt.logger.Warn("background task outside a live component", "sid", c.sid, "kind", kind.String())
		return
	}
	e.tasks.add(kind, fn)
}

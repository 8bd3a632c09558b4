package events

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Output is a side-effecting intent queued during a render pass and applied
// by the transport.
type Output interface {
	// Kind returns the wire discriminator, e.g. "navigate".
	Kind() string
}

// SetCookie asks the client to store a cookie.
type SetCookie struct {
	Cookie Cookie
}

// Navigate asks the client to change its location.
type Navigate struct {
	Location string
}

// ForceRefresh asks the client to reload the page.
type ForceRefresh struct{}

// UpgradeToStreaming asks the client to open (or close) the persistent
// connection.
type UpgradeToStreaming struct {
	Enabled bool
}

// Custom carries an application-defined event to client listeners.
type Custom struct {
	Name string
	Data any
}

// EventBinding attaches a handler to an event outside the component's own
// markup, or detaches it again. An empty Selector targets the window;
// otherwise every element matching the CSS selector is bound.
type EventBinding struct {
	Remove     bool
	Event      string
	Selector   string
	Descriptor Descriptor
}

func (SetCookie) Kind() string          { return "set-cookie" }
func (Navigate) Kind() string           { return "navigate" }
func (ForceRefresh) Kind() string       { return "force-refresh" }
func (UpgradeToStreaming) Kind() string { return "use-websocket" }
func (Custom) Kind() string             { return "custom" }
func (EventBinding) Kind() string       { return "event-binding" }

// MarshalJSON renders the set-cookie wire form.
func (e SetCookie) MarshalJSON() ([]byte, error) {
	type wire struct {
		Event    string  `json:"event"`
		Name     string  `json:"name"`
		Value    *string `json:"value,omitempty"`
		Expires  *string `json:"expires,omitempty"`
		Path     *string `json:"path,omitempty"`
		MaxAge   *int    `json:"max_age,omitempty"`
		Secure   *bool   `json:"secure,omitempty"`
		HTTPOnly *bool   `json:"http_only,omitempty"`
		Domain   *string `json:"domain,omitempty"`
	}
	c := e.Cookie
	w := wire{Event: e.Kind(), Name: c.Name, MaxAge: c.MaxAge}
	if c.Value != "" {
		w.Value = &c.Value
	}
	if c.Expires != nil {
		s := c.Expires.UTC().Format(time.RFC3339)
		w.Expires = &s
	}
	if c.Path != "" {
		w.Path = &c.Path
	}
	if c.Secure {
		w.Secure = &c.Secure
	}
	if c.HTTPOnly {
		w.HTTPOnly = &c.HTTPOnly
	}
	if c.Domain != "" {
		w.Domain = &c.Domain
	}
	return json.Marshal(w)
}

// MarshalJSON renders the navigate wire form.
func (e Navigate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event    string `json:"event"`
		Location string `json:"location"`
	}{e.Kind(), e.Location})
}

// MarshalJSON renders the force-refresh wire form.
func (e ForceRefresh) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
	}{e.Kind()})
}

// MarshalJSON renders the use-websocket wire form.
func (e UpgradeToStreaming) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event     string `json:"event"`
		WebSocket bool   `json:"websocket"`
	}{e.Kind(), e.Enabled})
}

// MarshalJSON renders the custom wire form.
func (e Custom) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Name  string `json:"name"`
		Data  any    `json:"data"`
	}{e.Kind(), e.Name, e.Data})
}

// opposite returns the binding with the other mode.
func (e EventBinding) opposite() Output {
	e.Remove = !e.Remove
	return e
}

// MarshalJSON renders the event-binding wire form.
func (e EventBinding) MarshalJSON() ([]byte, error) {
	mode, target := "add", "window"
	if e.Remove {
		mode = "remove"
	}
	if e.Selector != "" {
		target = "selector"
	}
	return json.Marshal(struct {
		Event      string `json:"event"`
		Mode       string `json:"mode"`
		Name       string `json:"name"`
		Target     string `json:"target"`
		Selector   string `json:"selector,omitempty"`
		Descriptor string `json:"descriptor"`
	}{e.Kind(), mode, e.Event, target, e.Selector, e.Descriptor.Encode()})
}

// Bus collects output events for the next render output.
// Equal events within one batch are kept once, at their first position.
// An event binding replaces a queued binding of the opposite mode, so the
// latest add or remove wins. It is safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	events []Output
	seen   map[string]struct{}
	notify func()
}

// NewBus creates a bus. notify, when non-nil, runs after every accepted
// event so an idle session loop wakes up.
func NewBus(notify func()) *Bus {
	return &Bus{seen: make(map[string]struct{}), notify: notify}
}

// Add queues ev unless an equal event is already queued.
// It reports whether the event was accepted.
func (b *Bus) Add(ev Output) bool {
	key := identity(ev)
	var cancel string
	if eb, ok := ev.(EventBinding); ok {
		cancel = identity(eb.opposite())
	}

	b.mu.Lock()
	if _, dup := b.seen[key]; dup {
		b.mu.Unlock()
		return false
	}
	if _, queued := b.seen[cancel]; cancel != "" && queued {
		delete(b.seen, cancel)
		b.events = slices.DeleteFunc(b.events, func(o Output) bool {
			return identity(o) == cancel
		})
	}
	b.seen[key] = struct{}{}
	b.events = append(b.events, ev)
	b.mu.Unlock()

	if b.notify != nil {
		b.notify()
	}
	return true
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Any reports whether a queued event satisfies match.
func (b *Bus) Any(match func(Output) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range b.events {
		if match(ev) {
			return true
		}
	}
	return false
}

// Drain returns the queued events and starts a new batch.
func (b *Bus) Drain() []Output {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.events
	b.events = nil
	b.seen = make(map[string]struct{})
	if out == nil {
		out = []Output{}
	}
	return out
}

var uniq atomic.Uint64

// identity compares events by their wire form.
func identity(ev Output) string {
	raw, err := json.Marshal(ev)
	if err != nil {
		// Unencodable custom data: never treat as a duplicate of anything.
		return fmt.Sprintf("%s\x00%d", ev.Kind(), uniq.Add(1))
	}
	return string(raw)
}

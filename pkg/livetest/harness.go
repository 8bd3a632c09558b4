package livetest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
	"github.com/vango-dev/livetree/pkg/session"
	"github.com/vango-dev/livetree/pkg/token"
)

// ErrNoDescriptor is returned by Trigger when the rendered HTML offers no
// matching handler.
var ErrNoDescriptor = errors.New("livetest: no matching handler descriptor")

var descriptorAttr = regexp.MustCompile(`live-on-([A-Za-z0-9_-]+)="([^"]*)"`)

// defaultSecret is shared by every harness in the process, so a token from
// one harness restores state in another.
var defaultSecret = sync.OnceValue(func() []byte {
	secret := make([]byte, 32)
	rand.Read(secret)
	return secret
})

// Config configures a Harness.
type Config struct {
	// Resolver seals state tokens. Default: a JWT resolver with a random
	// secret shared by the whole process.
	Resolver token.Resolver

	// Persistent runs jobs and workers. Default: false.
	Persistent bool

	// Location is the initial client location. Default: "/".
	Location string

	// Headers are the request headers the session sees.
	Headers http.Header

	// StateToken restores state on start.
	StateToken string
}

// Option configures a Harness.
type Option func(*Config)

// WithResolver sets the token resolver.
func WithResolver(r token.Resolver) Option {
	return func(c *Config) {
		c.Resolver = r
	}
}

// Persistent makes the session persistent so tasks run.
func Persistent() Option {
	return func(c *Config) {
		c.Persistent = true
	}
}

// WithLocation sets the initial location.
func WithLocation(location string) Option {
	return func(c *Config) {
		c.Location = location
	}
}

// WithHeader adds a request header.
func WithHeader(name, value string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}
		c.Headers.Add(name, value)
	}
}

// WithStateToken restores state from a token on start.
func WithStateToken(tok string) Option {
	return func(c *Config) {
		c.StateToken = tok
	}
}

// Harness drives one session in-process.
type Harness struct {
	tb      testing.TB
	app     func() node.Element
	config  Config
	sess    *session.Session
	html    string
	outputs []events.Output
}

// New starts a session for app and renders it. Failures stop the test.
func New(tb testing.TB, app func() node.Element, opts ...Option) *Harness {
	tb.Helper()
	cfg := Config{Location: "/"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Resolver == nil {
		r, err := token.NewJWT(defaultSecret())
		if err != nil {
			tb.Fatalf("livetest: resolver: %v", err)
		}
		cfg.Resolver = r
	}

	h := &Harness{tb: tb, app: app, config: cfg}
	h.start(cfg.StateToken)
	tb.Cleanup(func() {
		h.sess.Destroy(context.Background())
	})
	return h
}

func (h *Harness) start(stateToken string) {
	h.tb.Helper()
	scfg := session.DefaultConfig()
	scfg.Persistent = h.config.Persistent
	h.sess = session.New(h.app(), h.config.Resolver, scfg)
	h.sess.SetLocation(h.config.Location)
	if h.config.Headers != nil {
		h.sess.SetHeaders(h.config.Headers)
	}
	if err := h.sess.Init(context.Background(), stateToken); err != nil {
		h.tb.Fatalf("livetest: init: %v", err)
	}
	if err := h.Update(); err != nil {
		h.tb.Fatalf("livetest: first update: %v", err)
	}
}

// Session returns the underlying session.
func (h *Harness) Session() *session.Session { return h.sess }

// HTML returns the last full render.
func (h *Harness) HTML() string { return h.html }

// Outputs returns every output event emitted so far.
func (h *Harness) Outputs() []events.Output { return h.outputs }

// Update runs an update pass and re-renders the whole tree.
func (h *Harness) Update() error {
	ctx := context.Background()
	if err := h.sess.Update(ctx); err != nil {
		return err
	}
	upd, err := h.sess.RenderUpdate(ctx, false, true)
	if err != nil {
		return err
	}
	h.html = upd.HTMLParts[0]
	h.outputs = append(h.outputs, upd.Events...)
	return nil
}

// Send dispatches raw input events and updates.
func (h *Harness) Send(inputs ...events.Input) error {
	if err := h.sess.HandleEvents(context.Background(), inputs); err != nil {
		return err
	}
	return h.Update()
}

// Descriptors returns the handler descriptors the current HTML carries for
// event, in document order.
func (h *Harness) Descriptors(event string) []events.Descriptor {
	var out []events.Descriptor
	for _, m := range descriptorAttr.FindAllStringSubmatch(h.html, -1) {
		if m[1] != event {
			continue
		}
		d, err := events.DecodeDescriptor(m[2])
		if err != nil {
			h.tb.Errorf("livetest: malformed descriptor %q: %v", m[2], err)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Bindings returns the descriptors of the window and selector bindings
// still active for event, in the order they were added.
func (h *Harness) Bindings(event string) []events.Descriptor {
	var active []events.EventBinding
	for _, ev := range h.outputs {
		eb, ok := ev.(events.EventBinding)
		if !ok || eb.Event != event {
			continue
		}
		active = slices.DeleteFunc(active, func(a events.EventBinding) bool {
			return a.Selector == eb.Selector &&
				a.Descriptor.ContextID == eb.Descriptor.ContextID &&
				a.Descriptor.HandlerName == eb.Descriptor.HandlerName
		})
		if !eb.Remove {
			active = append(active, eb)
		}
	}
	out := make([]events.Descriptor, len(active))
	for i, eb := range active {
		out[i] = eb.Descriptor
	}
	return out
}

// Trigger sends event to the first rendered or bound handler named
// handler, as a client would, and updates. It fails the test if no such
// handler is offered or the event is rejected.
func (h *Harness) Trigger(event, handler string, data map[string]any) {
	h.tb.Helper()
	if err := h.TriggerErr(event, handler, data); err != nil {
		h.tb.Fatalf("livetest: trigger %s/%s: %v", event, handler, err)
	}
}

// TriggerErr is Trigger returning the error instead of failing.
func (h *Harness) TriggerErr(event, handler string, data map[string]any) error {
	for _, d := range append(h.Descriptors(event), h.Bindings(event)...) {
		if d.HandlerName == handler {
			return h.Send(d.Input(data))
		}
	}
	return fmt.Errorf("%w: %s on %s", ErrNoDescriptor, handler, event)
}

// StateToken seals the current state.
func (h *Harness) StateToken() string {
	h.tb.Helper()
	upd, err := h.sess.RenderUpdate(context.Background(), true, false)
	if err != nil {
		h.tb.Fatalf("livetest: state token: %v", err)
	}
	h.outputs = append(h.outputs, upd.Events...)
	return upd.StateToken
}

// Reload simulates a page reload: the state is sealed into a token, the
// session destroyed and a fresh one restored from the token.
func (h *Harness) Reload() {
	h.tb.Helper()
	tok := h.StateToken()
	if err := h.sess.Destroy(context.Background()); err != nil {
		h.tb.Errorf("livetest: destroy: %v", err)
	}
	h.start(tok)
}

// WaitFor updates whenever work is pending until cond holds for the HTML or
// timeout passes. It is meant for persistent harnesses with tasks.
func (h *Harness) WaitFor(cond func(html string) bool, timeout time.Duration) {
	h.tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for !cond(h.html) {
		if err := h.sess.Wait(ctx); err != nil {
			h.tb.Fatalf("livetest: condition not met: %v; html:\n%s", err, truncate(h.html, 500))
		}
		if err := h.Update(); err != nil {
			h.tb.Fatalf("livetest: update: %v", err)
		}
	}
}

// ExpectContains asserts that the rendered HTML contains expected.
func (h *Harness) ExpectContains(expected string) {
	h.tb.Helper()
	if !strings.Contains(h.html, expected) {
		h.tb.Errorf("expected rendered output to contain %q, got:\n%s", expected, truncate(h.html, 500))
	}
}

// ExpectNotContains asserts that the rendered HTML does not contain
// unexpected.
func (h *Harness) ExpectNotContains(unexpected string) {
	h.tb.Helper()
	if strings.Contains(h.html, unexpected) {
		h.tb.Errorf("expected rendered output to NOT contain %q, got:\n%s", unexpected, truncate(h.html, 500))
	}
}

// ExpectElement asserts that the rendered HTML contains a tag.
func (h *Harness) ExpectElement(tag string) {
	h.tb.Helper()
	if !strings.Contains(h.html, "<"+tag) {
		h.tb.Errorf("expected rendered output to contain <%s> element, got:\n%s", tag, truncate(h.html, 500))
	}
}

// ExpectAttribute asserts that the rendered HTML contains attr="value".
func (h *Harness) ExpectAttribute(attr, value string) {
	h.tb.Helper()
	needle := attr + `="` + value + `"`
	if !strings.Contains(h.html, needle) {
		h.tb.Errorf("expected attribute %s=%q not found, got:\n%s", attr, value, truncate(h.html, 500))
	}
}

// ExpectOutput asserts that an output event satisfying match was emitted.
func (h *Harness) ExpectOutput(match func(events.Output) bool) {
	h.tb.Helper()
	for _, ev := range h.outputs {
		if match(ev) {
			return
		}
	}
	h.tb.Errorf("expected a matching output event, got %v", h.outputs)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

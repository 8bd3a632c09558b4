package state

import (
	"sort"
	"strings"
	"sync"
)

// Key namespace prefixes.
const (
	EphemeralPrefix = "#"
	ProtocolPrefix  = "!"
)

// IsEphemeral reports whether key lives in the ephemeral namespace.
func IsEphemeral(key string) bool { return strings.HasPrefix(key, EphemeralPrefix) }

// IsProtocol reports whether key lives in the protocol namespace.
func IsProtocol(key string) bool { return strings.HasPrefix(key, ProtocolPrefix) }

// IsDurable reports whether key is part of the durable snapshot.
func IsDurable(key string) bool { return !IsEphemeral(key) && !IsProtocol(key) }

// Producer computes a cell's serialized value on demand.
// Cells holding a producer are always treated as changed when written.
type Producer interface {
	Produce() string
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func() string

// Produce calls f.
func (f ProducerFunc) Produce() string { return f() }

type cell struct {
	value    string
	producer Producer
	hasValue bool

	// subs counts live subscriptions per subscriber.
	subs map[string]int
}

func (c *cell) read() (string, Producer, bool) {
	return c.value, c.producer, c.hasValue
}

// Store is a session's key/value state with subscriber tracking.
// It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	cells   map[string]*cell
	pending map[string]struct{}
	signal  *Signal
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSignal makes the store notify sig whenever the dirty set grows.
func WithSignal(sig *Signal) StoreOption {
	return func(s *Store) {
		s.signal = sig
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		cells:   make(map[string]*cell),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signal == nil {
		s.signal = NewSignal()
	}
	return s
}

// Signal returns the signal asserted when updates become pending.
func (s *Store) Signal() *Signal {
	return s.signal
}

// Load seeds the store with values without notifying anyone.
// It is used once when a session is initialized from a token.
func (s *Store) Load(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		c := s.cellLocked(k)
		c.value, c.producer, c.hasValue = v, nil, true
	}
}

// Subscribe registers sub as a subscriber of key and returns the handle
// that releases it. Subscriptions are reference counted per (sub, key).
func (s *Store) Subscribe(sub, key string) *Subscription {
	s.mu.Lock()
	c := s.cellLocked(key)
	c.subs[sub]++
	s.mu.Unlock()

	return &Subscription{store: s, sub: sub, key: key}
}

// Peek returns the value of key without subscribing.
// A producer-backed cell is produced on every call.
func (s *Store) Peek(key string) (string, bool) {
	s.mu.Lock()
	c, ok := s.cells[key]
	if !ok {
		s.mu.Unlock()
		return "", false
	}
	value, producer, has := c.read()
	s.mu.Unlock()

	if producer != nil {
		return producer.Produce(), true
	}
	return value, has
}

// PeekProducer returns the producer held by key, if any.
func (s *Store) PeekProducer(key string) (Producer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cells[key]
	if !ok || c.producer == nil {
		return nil, false
	}
	return c.producer, true
}

// Set writes value to key. It is a no-op when the cell already holds the
// same plain value; otherwise every subscriber of key becomes pending.
// It reports whether the value changed.
func (s *Store) Set(key, value string) bool {
	s.mu.Lock()
	c := s.cellLocked(key)
	if c.hasValue && c.producer == nil && c.value == value {
		s.mu.Unlock()
		return false
	}
	c.value, c.producer, c.hasValue = value, nil, true
	notify := s.markSubscribersLocked(c)
	s.mu.Unlock()

	if notify {
		s.signal.Notify()
	}
	return true
}

// SetProducer installs p as the lazy value of key and notifies subscribers.
func (s *Store) SetProducer(key string, p Producer) {
	s.mu.Lock()
	c := s.cellLocked(key)
	c.value, c.producer, c.hasValue = "", p, true
	notify := s.markSubscribersLocked(c)
	s.mu.Unlock()

	if notify {
		s.signal.Notify()
	}
}

// Materialize swaps the value of key for a producer that yields the same
// serialized value. Subscribers are not notified.
func (s *Store) Materialize(key string, p Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cellLocked(key)
	c.value, c.producer, c.hasValue = "", p, true
}

// Delete removes the value of key, notifying subscribers when it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	c, ok := s.cells[key]
	if !ok || !c.hasValue {
		s.mu.Unlock()
		return false
	}
	c.value, c.producer, c.hasValue = "", nil, false
	notify := s.markSubscribersLocked(c)
	s.dropIfUnusedLocked(key, c)
	s.mu.Unlock()

	if notify {
		s.signal.Notify()
	}
	return true
}

// RequestUpdate marks sub pending without writing any key.
func (s *Store) RequestUpdate(sub string) {
	s.mu.Lock()
	s.pending[sub] = struct{}{}
	s.mu.Unlock()

	s.signal.Notify()
}

// Pending reports whether any subscriber awaits an update.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// PopPendingUpdates drains the dirty set. The result is sorted.
func (s *Store) PopPendingUpdates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.pending))
	for sub := range s.pending {
		out = append(out, sub)
	}
	s.pending = make(map[string]struct{})
	sort.Strings(out)
	return out
}

// Cleanup removes every key under one of prefixes that has no subscriber.
// Without prefixes it cleans the ephemeral namespace. Durable keys are only
// removed when a prefix explicitly selects them.
func (s *Store) Cleanup(prefixes ...string) []string {
	if len(prefixes) == 0 {
		prefixes = []string{EphemeralPrefix}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for key, c := range s.cells {
		if len(c.subs) > 0 || !hasAnyPrefix(key, prefixes) {
			continue
		}
		delete(s.cells, key)
		if c.hasValue {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// Purge deletes every valued key accepted by match and returns them sorted.
// Remaining subscribers of a purged key become pending.
func (s *Store) Purge(match func(key string) bool) []string {
	s.mu.Lock()
	var (
		removed []string
		notify  bool
	)
	for key, c := range s.cells {
		if !c.hasValue || !match(key) {
			continue
		}
		c.value, c.producer, c.hasValue = "", nil, false
		if s.markSubscribersLocked(c) {
			notify = true
		}
		s.dropIfUnusedLocked(key, c)
		removed = append(removed, key)
	}
	s.mu.Unlock()

	if notify {
		s.signal.Notify()
	}
	sort.Strings(removed)
	return removed
}

// Snapshot returns the durable keys and their serialized values.
func (s *Store) Snapshot() map[string]string {
	type lazy struct {
		key string
		p   Producer
	}

	s.mu.Lock()
	out := make(map[string]string)
	var producers []lazy
	for key, c := range s.cells {
		if !c.hasValue || !IsDurable(key) {
			continue
		}
		if c.producer != nil {
			producers = append(producers, lazy{key, c.producer})
			continue
		}
		out[key] = c.value
	}
	s.mu.Unlock()

	// Producers may read the store, so they run unlocked.
	for _, l := range producers {
		out[l.key] = l.p.Produce()
	}
	return out
}

// Keys returns every valued key with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, c := range s.cells {
		if c.hasValue && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Subscribers returns the number of distinct subscribers of key.
func (s *Store) Subscribers(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cells[key]; ok {
		return len(c.subs)
	}
	return 0
}

func (s *Store) cellLocked(key string) *cell {
	c, ok := s.cells[key]
	if !ok {
		c = &cell{subs: make(map[string]int)}
		s.cells[key] = c
	}
	return c
}

func (s *Store) markSubscribersLocked(c *cell) bool {
	for sub := range c.subs {
		s.pending[sub] = struct{}{}
	}
	return len(c.subs) > 0
}

func (s *Store) dropIfUnusedLocked(key string, c *cell) {
	if !c.hasValue && len(c.subs) == 0 {
		delete(s.cells, key)
	}
}

func (s *Store) unsubscribe(sub, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cells[key]
	if !ok {
		return
	}
	if n := c.subs[sub]; n > 1 {
		c.subs[sub] = n - 1
	} else {
		delete(c.subs, sub)
	}
	s.dropIfUnusedLocked(key, c)
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Subscription is a handle to one (subscriber, key) registration.
type Subscription struct {
	store *Store
	sub   string
	key   string
	once  sync.Once
}

// Key returns the subscribed key.
func (s *Subscription) Key() string { return s.key }

// Unsubscribe releases the registration. Further calls do nothing.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.unsubscribe(s.sub, s.key)
	})
}

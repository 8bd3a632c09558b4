package state

// Signal wakes a waiting loop when pending work appears.
//
// Notifications coalesce: any number of Notify calls between two receives
// produce a single wakeup. Callers that need level semantics must re-check
// their own condition after waking (and before waiting), since a wakeup can
// be stale.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a signal with no pending wakeup.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify records a wakeup without blocking.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
		// Already has a pending wakeup.
	}
}

// C returns the channel that receives a value after Notify.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Clear drops a pending wakeup, if any.
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

package pubcontrol

import "sync"

// Aggregator collapses the per-endpoint results of one broadcast into a single
// callback invocation. It fires once expected results have been handled,
// reporting success only if every endpoint succeeded, plus the first error.
//
// Handle is safe to call from several workers at once.
type Aggregator struct {
	mu        sync.Mutex
	expected  int
	remaining int
	succeeded bool
	firstErr  string
	cb        Callback
	completed bool
}

func NewAggregator(expected int, cb Callback) *Aggregator {
	a := &Aggregator{}
	a.Reset(expected, cb)
	return a
}

// Reset reinitializes a for a new broadcast.
func (a *Aggregator) Reset(expected int, cb Callback) {
	a.mu.Lock()
	a.expected = expected
	a.remaining = expected
	a.succeeded = true
	a.firstErr = ""
	a.cb = cb
	a.completed = false
	a.mu.Unlock()
}

// Handle records one endpoint result. Calls after completion are ignored.
func (a *Aggregator) Handle(success bool, message string) {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return
	}
	if !success && a.succeeded {
		a.succeeded = false
		a.firstErr = message
	}
	a.remaining--
	if a.remaining > 0 {
		a.mu.Unlock()
		return
	}
	a.completed = true
	cb, ok, msg := a.cb, a.succeeded, a.firstErr
	a.mu.Unlock()

	// Run the user callback outside the lock so it may inspect the aggregator.
	if cb != nil {
		cb(ok, msg)
	}
}

func (a *Aggregator) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Remaining reports how many results are still outstanding.
func (a *Aggregator) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return max(a.remaining, 0)
}

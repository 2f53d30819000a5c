// Package barrierstate implements the Barrier rendezvous primitive: an
// advance-counting gate that releases every registered waiter once enough
// advances have been recorded, even if some waiters register after the
// gate was already satisfied.
package barrierstate

import "sync"

// Barrier is shared between its declaring group (which owns its lifetime,
// via the storage arena) and the WaitForBarrier/BarrierAdvance leaves that
// reference it. To avoid a second ownership edge, Barrier itself never
// retains a node; it only retains release callbacks supplied by waiters.
type Barrier struct {
	mu       sync.Mutex
	required int
	current  int
	waiters  map[string]func()
}

// New creates a Barrier that releases once Advance has been called enough
// times to accumulate at least `required` total advance.
func New(required int) *Barrier {
	if required < 0 {
		required = 0
	}
	return &Barrier{required: required, waiters: make(map[string]func())}
}

// Register adds a waiter identified by id. If the barrier is already
// satisfied, onSatisfied is invoked synchronously (the caller is expected to
// be the driver goroutine): a waiter that registers after an advance already
// satisfied the barrier completes immediately rather than hanging forever.
// Otherwise onSatisfied is retained and returned by the Advance call that
// satisfies the barrier, for that caller to invoke.
func (b *Barrier) Register(id string, onSatisfied func()) {
	b.mu.Lock()
	satisfied := b.current >= b.required
	if !satisfied {
		b.waiters[id] = onSatisfied
	}
	b.mu.Unlock()

	if satisfied {
		onSatisfied()
	}
}

// Unregister removes a waiter without side effects, used when a waiter leaf
// is cancelled before the barrier is satisfied.
func (b *Barrier) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, id)
}

// Advance records n additional advances (n is typically 1) and, if this
// call causes current to reach required for the first time, returns every
// registered waiter's release callback so the caller can invoke them all
// within the same driver turn. Advance is idempotent-safe: calling it again
// after the barrier is already satisfied just returns an empty slice.
func (b *Barrier) Advance(n int) []func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasSatisfied := b.current >= b.required
	b.current += n
	if wasSatisfied || b.current < b.required {
		return nil
	}

	callbacks := make([]func(), 0, len(b.waiters))
	for _, cb := range b.waiters {
		callbacks = append(callbacks, cb)
	}
	b.waiters = make(map[string]func())
	return callbacks
}

// Current returns the number of advances recorded so far.
func (b *Barrier) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

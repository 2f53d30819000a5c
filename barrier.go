package tasking

import (
	"context"

	"github.com/vk/tasking/internal/barrierstate"
	"github.com/vk/tasking/internal/recipe"
	"github.com/vk/tasking/internal/runtime"
	"github.com/vk/tasking/internal/storageslot"
)

// Barrier declares an advance-counting rendezvous gate scoped to the
// subtree of whichever Group lists it as a GroupItem, the same
// declare-then-reference shape as Storage. WaitForBarrier leaves registered
// anywhere in that subtree all complete once Advance has been called enough
// times, in total, to reach required — including waiters that register
// after the barrier was already satisfied.
type Barrier struct {
	key      storageslot.Key
	required int
}

// NewBarrier declares a barrier that releases once its total advance count
// reaches required.
func NewBarrier(name string, required int) Barrier {
	return Barrier{key: storageslot.NewKey(name), required: required}
}

func (b Barrier) applyToGroup(g *groupBuilder) {
	required := b.required
	g.g.Storages = append(g.g.Storages, storageslot.Decl{
		Key:        b.key,
		NewDefault: func() any { return barrierstate.New(required) },
	})
}

// WaitForBarrier builds a leaf that completes once b is satisfied.
func (b Barrier) WaitForBarrier() GroupItem {
	return childItem{item: &recipe.BarrierWait{BarrierKey: b.key}}
}

// Advance builds a leaf that records n (default 1) advances against b and
// completes immediately.
func (b Barrier) Advance(n ...int) GroupItem {
	count := 1
	if len(n) > 0 {
		count = n[0]
	}
	return childItem{item: &recipe.BarrierAdvance{BarrierKey: b.key, N: count}}
}

// Current reports how many advances b has recorded so far, resolved against
// the active instance on node's path — exposed for tests and diagnostics
// via a handler's context.
func (b Barrier) Current(ctx context.Context) int {
	n, ok := runtime.NodeFromContext(ctx)
	if !ok {
		panic("tasking: Barrier.Current called outside a handler invocation")
	}
	v, ok := runtime.ActiveInstance(n, b.key)
	if !ok {
		panic("tasking: barrier has no active instance on this path")
	}
	return v.(*barrierstate.Barrier).Current()
}

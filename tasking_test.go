package tasking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tasking"
)

// controlledAdapter lets a test decide exactly when a task completes and
// observe whether RequestCancel was called, without relying on real-time
// sleeps.
type controlledAdapter struct {
	mu        sync.Mutex
	cancelled bool
	release   chan tasking.Outcome
}

func newControlledAdapter() *controlledAdapter {
	return &controlledAdapter{release: make(chan tasking.Outcome, 1)}
}

func (a *controlledAdapter) Start(ctx context.Context, report tasking.Reporter) error {
	go func() {
		o := <-a.release
		report(o)
	}()
	return nil
}

func (a *controlledAdapter) RequestCancel() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
	a.release <- tasking.OutcomeFailure
}

func (a *controlledAdapter) wasCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

func instantTask(outcome tasking.Outcome) tasking.GroupItem {
	return tasking.NewTask(func() tasking.Adapter { return &instantAdapter{outcome: outcome} })
}

type instantAdapter struct{ outcome tasking.Outcome }

func (a *instantAdapter) Start(ctx context.Context, report tasking.Reporter) error {
	report(a.outcome)
	return nil
}
func (a *instantAdapter) RequestCancel() {}

func TestSequentialTasksRunInOrderAndSucceed(t *testing.T) {
	var order []int
	mk := func(i int) tasking.GroupItem {
		return tasking.NewTask(func() tasking.Adapter {
			order = append(order, i)
			return &instantAdapter{outcome: tasking.OutcomeSuccess}
		})
	}
	root := tasking.Group(
		tasking.WithMode(tasking.Sequential()),
		mk(1), mk(2), mk(3),
	)
	c, err := tasking.New(root)
	require.NoError(t, err)
	result := c.RunBlocking(context.Background())
	assert.Equal(t, tasking.DoneSuccess, result)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestStopOnErrorCancelsRunningSiblingUnderParallel(t *testing.T) {
	a1 := newControlledAdapter()
	root := tasking.Group(
		tasking.WithMode(tasking.Parallel()),
		tasking.WorkflowPolicy(tasking.StopOnError),
		tasking.NewTask(func() tasking.Adapter { return a1 }),
		instantTask(tasking.OutcomeFailure),
	)
	c, err := tasking.New(root)
	require.NoError(t, err)
	result := c.RunBlocking(context.Background())
	assert.Equal(t, tasking.DoneError, result)
	assert.True(t, a1.wasCancelled())
}

func TestStorageShadowingResolvesInnermostDeclaration(t *testing.T) {
	s := tasking.NewStorage[int]("counter")
	var outerSeen, innerSeen int

	root := tasking.Group(
		s,
		tasking.NewSync(func(ctx context.Context) tasking.DoneResult {
			*s.Get(ctx) = 3
			outerSeen = *s.Get(ctx)
			return tasking.ResultSuccess
		}),
		tasking.Group(
			s,
			tasking.NewSync(func(ctx context.Context) tasking.DoneResult {
				*s.Get(ctx) = 9
				innerSeen = *s.Get(ctx)
				return tasking.ResultSuccess
			}),
		),
	)
	c, err := tasking.New(root)
	require.NoError(t, err)
	result := c.RunBlocking(context.Background())
	require.Equal(t, tasking.DoneSuccess, result)
	assert.Equal(t, 3, outerSeen)
	assert.Equal(t, 9, innerSeen, "nested group's own declaration shadows the outer instance")
}

func TestBarrierGatesAcrossParallelChildren(t *testing.T) {
	b := tasking.NewBarrier("gate", 2)
	var waiterRan bool
	root := tasking.Group(
		b,
		tasking.WithMode(tasking.Parallel()),
		tasking.WorkflowPolicy(tasking.FinishAllAndSuccess),
		tasking.Group(
			b.WaitForBarrier(),
			tasking.NewSyncSimple(func() { waiterRan = true }),
		),
		b.Advance(),
		b.Advance(),
	)
	c, err := tasking.New(root)
	require.NoError(t, err)
	result := c.RunBlocking(context.Background())
	assert.Equal(t, tasking.DoneSuccess, result)
	assert.True(t, waiterRan)
}

func TestGroupTimeoutCancelsSubtree(t *testing.T) {
	a1 := newControlledAdapter()
	var timedOut bool
	root := tasking.Group(
		tasking.WithTimeout(time.Millisecond, func(ctx context.Context) { timedOut = true }),
		tasking.NewTask(func() tasking.Adapter { return a1 }),
	)
	c, err := tasking.New(root, tasking.WithClock(fakeClock{}))
	require.NoError(t, err)
	result := c.RunBlocking(context.Background())
	assert.Equal(t, tasking.DoneCancel, result)
	assert.True(t, timedOut)
	assert.True(t, a1.wasCancelled())
}

func TestStorageDoneHookNotInvokedAfterStop(t *testing.T) {
	s := tasking.NewStorage[int]("root-value")
	a1 := newControlledAdapter()
	root := tasking.Group(
		s,
		tasking.NewTask(func() tasking.Adapter { return a1 }),
	)
	c, err := tasking.New(root)
	require.NoError(t, err)

	var doneCalled bool
	tasking.OnStorageDone(c, s, func(v *int) { doneCalled = true })

	c.Start(context.Background())
	c.Stop()
	<-c.Done()
	assert.False(t, doneCalled)
}

type fakeClock struct{}

func (fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

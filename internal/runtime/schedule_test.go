package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tasking/internal/barrierstate"
	"github.com/vk/tasking/internal/recipe"
	"github.com/vk/tasking/internal/runtime"
	"github.com/vk/tasking/internal/storageslot"
)

// instantAdapter reports outcome synchronously inside Start, the simplest
// possible Adapter for exercising the scheduler without goroutine timing.
type instantAdapter struct {
	outcome        recipe.Outcome
	startErr       error
	cancelRequests *int
}

func (a *instantAdapter) Start(ctx context.Context, report recipe.Reporter) error {
	if a.startErr != nil {
		return a.startErr
	}
	report(a.outcome)
	return nil
}

func (a *instantAdapter) RequestCancel() {
	if a.cancelRequests != nil {
		*a.cancelRequests++
	}
}

func newTask(outcome recipe.Outcome) *recipe.Task {
	return &recipe.Task{
		NewAdapter: func() recipe.Adapter { return &instantAdapter{outcome: outcome} },
	}
}

func compileAndRun(t *testing.T, g *recipe.Group) recipe.DoneWith {
	t.Helper()
	tree, err := runtime.Compile(context.Background(), g)
	require.NoError(t, err)
	tree.Start(context.Background())
	select {
	case d := <-tree.Done():
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not finish in time")
		return recipe.DoneError
	}
}

func TestSequentialAllSuccess(t *testing.T) {
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Children: []recipe.Item{
			newTask(recipe.OutcomeSuccess),
			newTask(recipe.OutcomeSuccess),
			newTask(recipe.OutcomeSuccess),
		},
	}
	tree, err := runtime.Compile(context.Background(), g)
	require.NoError(t, err)
	tree.Start(context.Background())
	result := <-tree.Done()
	assert.Equal(t, recipe.DoneSuccess, result)
	assert.Equal(t, 3, tree.ProgressMaximum())
	assert.Equal(t, 3, tree.ProgressValue())
}

func TestStopOnErrorPrunesRemainingSiblings(t *testing.T) {
	var ran3 bool
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Children: []recipe.Item{
			newTask(recipe.OutcomeSuccess),
			newTask(recipe.OutcomeFailure),
			&recipe.Sync{Fn: func(ctx context.Context) recipe.DoneResult {
				ran3 = true
				return recipe.ResultSuccess
			}},
		},
	}
	compileAndRun(t, g)
	assert.False(t, ran3, "third child must be pruned once the second fails under StopOnError")
}

func TestContinueOnErrorRunsEverySibling(t *testing.T) {
	var ran int
	mk := func(outcome recipe.Outcome) *recipe.Task {
		return &recipe.Task{NewAdapter: func() recipe.Adapter {
			ran++
			return &instantAdapter{outcome: outcome}
		}}
	}
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.ContinueOnError,
		Children: []recipe.Item{
			mk(recipe.OutcomeSuccess),
			mk(recipe.OutcomeFailure),
			mk(recipe.OutcomeSuccess),
		},
	}
	compileAndRun(t, g)
	assert.Equal(t, 3, ran)
}

func TestEmptyGroupTieBreakDefaults(t *testing.T) {
	cases := []struct {
		w    recipe.Workflow
		want recipe.DoneWith
	}{
		{recipe.StopOnError, recipe.DoneSuccess},
		{recipe.ContinueOnError, recipe.DoneSuccess},
		{recipe.StopOnSuccess, recipe.DoneError},
		{recipe.StopOnSuccessOrError, recipe.DoneError},
		{recipe.ContinueOnSuccess, recipe.DoneError},
		{recipe.FinishAllAndSuccess, recipe.DoneSuccess},
		{recipe.FinishAllAndError, recipe.DoneError},
	}
	for _, c := range cases {
		g := &recipe.Group{Mode: recipe.Sequential(), Workflow: c.w}
		tree, err := runtime.Compile(context.Background(), g)
		require.NoError(t, err)
		tree.Start(context.Background())
		got := <-tree.Done()
		assert.Equal(t, c.want, got, "workflow %v", c.w)
	}
}

func TestFinishAllAndSuccessReportsSuccessDespiteAFailingChild(t *testing.T) {
	g := &recipe.Group{
		Mode:     recipe.Parallel(),
		Workflow: recipe.FinishAllAndSuccess,
		Children: []recipe.Item{
			newTask(recipe.OutcomeSuccess),
			newTask(recipe.OutcomeFailure),
		},
	}
	result := compileAndRun(t, g)
	assert.Equal(t, recipe.DoneSuccess, result, "FinishAllAndSuccess is a fixed outcome, not gated on error count")
}

func TestFinishAllAndErrorReportsErrorDespiteASucceedingChild(t *testing.T) {
	g := &recipe.Group{
		Mode:     recipe.Parallel(),
		Workflow: recipe.FinishAllAndError,
		Children: []recipe.Item{
			newTask(recipe.OutcomeSuccess),
		},
	}
	result := compileAndRun(t, g)
	assert.Equal(t, recipe.DoneError, result, "FinishAllAndError is a fixed outcome, not gated on success count")
}

func TestPrunedSiblingStillCountsTowardProgress(t *testing.T) {
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Children: []recipe.Item{
			newTask(recipe.OutcomeFailure),
			newTask(recipe.OutcomeSuccess), // never started: pruned by StopOnError
		},
	}
	tree, err := runtime.Compile(context.Background(), g)
	require.NoError(t, err)
	tree.Start(context.Background())
	<-tree.Done()
	assert.Equal(t, 2, tree.ProgressMaximum())
	assert.Equal(t, tree.ProgressMaximum(), tree.ProgressValue(), "a pruned sibling must still be credited once its parent reaches a terminal state")
}

func TestGroupDoneHandlerCanRewriteOutcome(t *testing.T) {
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Children: []recipe.Item{newTask(recipe.OutcomeFailure)},
		Done: func(ctx context.Context, d recipe.DoneWith) recipe.DoneResult {
			// A group can decide a failing child was actually acceptable.
			return recipe.ResultSuccess
		},
	}
	result := compileAndRun(t, g)
	assert.Equal(t, recipe.DoneSuccess, result)
}

func TestBarrierReleasesWaiterRegisteredBeforeAdvance(t *testing.T) {
	key := storageslot.NewKey("barrier")
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Storages: []storageslot.Decl{{Key: key, NewDefault: func() any { return barrierstate.New(1) }}},
		Children: []recipe.Item{
			&recipe.Group{
				Mode:     recipe.Parallel(),
				Workflow: recipe.FinishAllAndSuccess,
				Children: []recipe.Item{
					&recipe.BarrierWait{BarrierKey: key},
					&recipe.BarrierAdvance{BarrierKey: key, N: 1},
				},
			},
		},
	}
	result := compileAndRun(t, g)
	assert.Equal(t, recipe.DoneSuccess, result)
}

func TestBarrierReleasesWaiterRegisteredAfterAdvance(t *testing.T) {
	key := storageslot.NewKey("barrier")
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Storages: []storageslot.Decl{{Key: key, NewDefault: func() any { return barrierstate.New(1) }}},
		Children: []recipe.Item{
			&recipe.Group{
				Mode:     recipe.Parallel(),
				Workflow: recipe.FinishAllAndSuccess,
				Children: []recipe.Item{
					&recipe.BarrierAdvance{BarrierKey: key, N: 1},
					&recipe.BarrierWait{BarrierKey: key},
				},
			},
		},
	}
	result := compileAndRun(t, g)
	assert.Equal(t, recipe.DoneSuccess, result)
}

func TestCompileRejectsUnresolvedBarrierReference(t *testing.T) {
	g := &recipe.Group{
		Mode:     recipe.Sequential(),
		Workflow: recipe.StopOnError,
		Children: []recipe.Item{
			&recipe.BarrierWait{}, // zero-value key: never declared by any ancestor
		},
	}
	_, err := runtime.Compile(context.Background(), g)
	assert.Error(t, err)
}

package tasking

import (
	"context"
	"time"

	"github.com/vk/tasking/internal/recipe"
)

// TaskItem configures a Task built by NewTask, the same accumulate-by-list
// shape as GroupItem uses for Group.
type TaskItem interface {
	applyToTask(b *taskBuilder)
}

type taskBuilder struct {
	t recipe.Task
}

// NewTask builds a Task leaf backed by newAdapter, which the engine calls
// once per attempt to construct a fresh Adapter instance.
func NewTask(newAdapter func() Adapter, items ...TaskItem) GroupItem {
	b := &taskBuilder{t: recipe.Task{NewAdapter: newAdapter, Filter: FilterAlways}}
	for _, it := range items {
		it.applyToTask(b)
	}
	t := b.t
	return childItem{item: &t}
}

type taskSetupItem struct{ fn TaskSetupFunc }

func (s taskSetupItem) applyToTask(b *taskBuilder) { b.t.Setup = s.fn }

// OnTaskSetup installs the full-signature setup handler, called once before
// the adapter's Start is invoked.
func OnTaskSetup(fn TaskSetupFunc) TaskItem { return taskSetupItem{fn: fn} }

// OnTaskSetupSimple widens a setup handler that only needs the Adapter.
func OnTaskSetupSimple(fn func(Adapter)) TaskItem {
	return OnTaskSetup(func(ctx context.Context, a Adapter) SetupResult {
		fn(a)
		return Continue
	})
}

type taskDoneItem struct{ fn TaskDoneFunc }

func (d taskDoneItem) applyToTask(b *taskBuilder) { b.t.Done = d.fn }

// OnTaskDone installs the full-signature done handler.
func OnTaskDone(fn TaskDoneFunc) TaskItem { return taskDoneItem{fn: fn} }

// OnTaskDoneSimple widens a done handler that only wants the raw outcome
// and never rewrites it.
func OnTaskDoneSimple(fn func(DoneWith)) TaskItem {
	return OnTaskDone(func(ctx context.Context, a Adapter, d DoneWith) DoneResult {
		fn(d)
		if d == DoneSuccess {
			return ResultSuccess
		}
		return ResultError
	})
}

type taskFilterItem struct{ f Filter }

func (f taskFilterItem) applyToTask(b *taskBuilder) { b.t.Filter = f.f }

// WithDoneFilter restricts when the task's done handler runs.
func WithDoneFilter(f Filter) TaskItem { return taskFilterItem{f: f} }

type taskTimeoutItem struct {
	d  time.Duration
	fn TimeoutFunc
}

func (t taskTimeoutItem) applyToTask(b *taskBuilder) {
	b.t.Timeout = t.d
	b.t.OnTimeout = t.fn
}

// WithTaskTimeout arms a deadline on the task: if it is still running after
// d, onTimeout (which may be nil) runs and RequestCancel is called on its
// adapter.
func WithTaskTimeout(d time.Duration, onTimeout TimeoutFunc) TaskItem {
	return taskTimeoutItem{d: d, fn: onTimeout}
}

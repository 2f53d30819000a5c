package tasking

import (
	"context"
	"time"

	"github.com/vk/tasking/internal/recipe"
)

// GroupItem is anything that can appear inside a Group(...) call: a child
// (Task, Sync, nested Group, a Storage/Barrier declaration, a barrier wait
// or advance leaf) or a modifier (Sequential, WorkflowPolicy, OnGroupSetup,
// WithTimeout, ...). This mirrors the original Tasking library's braced
// "TreeItem" list builder, rendered as Go's variadic-interface idiom.
type GroupItem interface {
	applyToGroup(b *groupBuilder)
}

type groupBuilder struct {
	g recipe.Group
}

func newGroupBuilder() *groupBuilder {
	return &groupBuilder{g: recipe.Group{Mode: Sequential(), Workflow: StopOnError}}
}

func (b *groupBuilder) build() *recipe.Group {
	g := b.g
	return &g
}

// GroupHandle is the concrete value Group(...) returns: usable as a
// GroupItem to nest inside an enclosing Group, and as the root argument to
// New since it retains direct access to its built
// *recipe.Group.
type GroupHandle struct{ g *recipe.Group }

func (h GroupHandle) applyToGroup(b *groupBuilder) { b.g.Children = append(b.g.Children, h.g) }

// Group assembles a Group node from a flat list of items. Modifiers use
// last-write-wins semantics when repeated; children and storage/barrier
// declarations accumulate in the order given.
func Group(items ...GroupItem) GroupHandle {
	b := newGroupBuilder()
	for _, it := range items {
		it.applyToGroup(b)
	}
	return GroupHandle{g: b.build()}
}

// childItem wraps any already-built recipe.Item (a *recipe.Group, *recipe.Task,
// *recipe.Sync, *recipe.BarrierWait, *recipe.BarrierAdvance) so it can be
// listed as a GroupItem, i.e. as a child of an enclosing Group.
type childItem struct{ item recipe.Item }

func (c childItem) applyToGroup(b *groupBuilder) { b.g.Children = append(b.g.Children, c.item) }

// --- modifiers ---

type modeItem struct{ m Mode }

func (m modeItem) applyToGroup(b *groupBuilder) { b.g.Mode = m.m }

// WithMode sets a group's concurrency mode explicitly, for call sites that
// build a Mode value dynamically instead of using Sequential()/Parallel()/
// ParallelLimit(k) as a bare GroupItem.
func WithMode(m Mode) GroupItem { return modeItem{m: m} }

type workflowItem struct{ w Workflow }

func (w workflowItem) applyToGroup(b *groupBuilder) { b.g.Workflow = w.w }

// WorkflowPolicy sets a group's child-outcome propagation policy.
func WorkflowPolicy(w Workflow) GroupItem { return workflowItem{w: w} }

type groupSetupItem struct{ fn GroupSetupFunc }

func (s groupSetupItem) applyToGroup(b *groupBuilder) { b.g.Setup = s.fn }

// OnGroupSetup installs the group's setup handler, called once before any
// child is scheduled. Returning StopWithSuccess/StopWithError skips every
// child and finalizes the group directly with that outcome.
func OnGroupSetup(fn GroupSetupFunc) GroupItem { return groupSetupItem{fn: fn} }

type groupDoneItem struct{ fn GroupDoneFunc }

func (d groupDoneItem) applyToGroup(b *groupBuilder) { b.g.Done = d.fn }

// OnGroupDone installs the group's done handler, called once all children
// have settled (or setup rejected the group outright). Its DoneResult can
// rewrite the outcome the parent group observes.
func OnGroupDone(fn GroupDoneFunc) GroupItem { return groupDoneItem{fn: fn} }

type timeoutItem struct {
	d  time.Duration
	fn TimeoutFunc
}

func (t timeoutItem) applyToGroup(b *groupBuilder) {
	b.g.Timeout = t.d
	b.g.OnTimeout = t.fn
}

// WithTimeout arms a deadline on the group: if it is still running after d,
// onTimeout (which may be nil) runs and the group is cancelled exactly as
// if Controller.Cancel had targeted it directly.
func WithTimeout(d time.Duration, onTimeout TimeoutFunc) GroupItem {
	return timeoutItem{d: d, fn: onTimeout}
}

// --- widened setup/done handler forms, mirroring the original Tasking
// library's validConstructs() overload set ---

// OnGroupSetupSimple widens a no-context, no-result setup handler that
// always continues — the common case where a group's setup only has side
// effects (e.g. logging) and never rejects the group.
func OnGroupSetupSimple(fn func()) GroupItem {
	return OnGroupSetup(func(ctx context.Context) SetupResult {
		fn()
		return Continue
	})
}

// OnGroupDoneSimple widens a done handler that only wants the raw outcome
// and never rewrites it.
func OnGroupDoneSimple(fn func(DoneWith)) GroupItem {
	return OnGroupDone(func(ctx context.Context, d DoneWith) DoneResult {
		fn(d)
		if d == DoneSuccess {
			return ResultSuccess
		}
		return ResultError
	})
}

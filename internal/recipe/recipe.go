// Package recipe holds the engine's canonical, immutable AST and the single
// full-argument handler signature every narrower public constructor widens
// into: one canonical signature lives here, and the lightweight adapters
// sit at the API layer instead. Nothing here is meant to be imported by end
// users — the root package `tasking` is the public surface and simply
// re-exports the types below via aliases, plus the builder glue (GroupItem
// etc.) that constructs them.
package recipe

import (
	"context"
	"time"

	"github.com/vk/tasking/internal/storageslot"
)

// Outcome is what an Adapter reports exactly once via its Reporter callback.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "Success"
	}
	return "Failure"
}

// Reporter is the callback an Adapter invokes exactly once to report the
// terminal outcome of the work it started. It is safe to call from any
// goroutine: the engine marshals it back onto its single driver context
// before any handler observes it.
type Reporter func(Outcome)

// Adapter is the capability every external task implementation must
// satisfy to be usable as a Task leaf.
type Adapter interface {
	// Start begins the task's work. A non-nil error fails the task
	// immediately, before any done handler runs, and report must not be
	// called in that case. On success, Start must arrange for report to be
	// called exactly once, even if RequestCancel is subsequently called.
	Start(ctx context.Context, report Reporter) error
	// RequestCancel asks the adapter to stop cooperatively. The task is
	// still considered live until report is eventually called.
	RequestCancel()
}

// DoneWith is the outcome a done handler (group or task) observes, and the
// terminal outcome the top-level Controller reports.
type DoneWith int

const (
	DoneSuccess DoneWith = iota
	DoneError
	DoneCancel
)

func (d DoneWith) String() string {
	switch d {
	case DoneSuccess:
		return "Success"
	case DoneError:
		return "Error"
	default:
		return "Cancel"
	}
}

// SetupResult is returned by a group or task setup handler.
type SetupResult int

const (
	Continue SetupResult = iota
	StopWithSuccess
	StopWithError
)

// DoneResult is returned by a group or task done handler; it may rewrite
// the outcome the parent observes, but a handler can never produce
// DoneCancel — only the engine can.
type DoneResult int

const (
	ResultSuccess DoneResult = iota
	ResultError
)

// Filter controls whether a task's done handler runs at all.
type Filter int

const (
	FilterAlways Filter = iota
	FilterOnSuccess
	FilterOnError
)

// Workflow is the policy that converts children outcomes into a group's
// outcome and stop/continue decisions.
type Workflow int

const (
	StopOnError Workflow = iota
	ContinueOnError
	StopOnSuccess
	ContinueOnSuccess
	StopOnSuccessOrError
	FinishAllAndSuccess
	FinishAllAndError
)

// modeKind distinguishes Sequential/Parallel/ParallelLimit without using an
// ambiguous zero-as-unlimited sentinel.
type modeKind int

const (
	modeSequential modeKind = iota
	modeParallel
	modeLimited
)

// Mode is a group's concurrency mode. The zero value is Sequential
// (equivalent to ParallelLimit(1)), a safe default for a Group built
// without an explicit mode.
type Mode struct {
	kind  modeKind
	limit int
}

func Sequential() Mode           { return Mode{kind: modeSequential} }
func Parallel() Mode             { return Mode{kind: modeParallel} }
func ParallelLimit(k int) Mode {
	if k < 1 {
		k = 1
	}
	return Mode{kind: modeLimited, limit: k}
}

// Limit returns the maximum number of concurrently running children this
// mode allows. Parallel is reported as a very large but finite number so
// callers can use it directly as a semaphore capacity.
func (m Mode) Limit() int {
	switch m.kind {
	case modeSequential:
		return 1
	case modeParallel:
		return 1 << 30
	default:
		if m.limit < 1 {
			return 1
		}
		return m.limit
	}
}

// Canonical handler signatures. Every public constructor in package
// `tasking` that accepts a narrower handler form (func(), func(Adapter),
// etc.) widens it into one of these before storing it on the AST.
type (
	GroupSetupFunc func(ctx context.Context) SetupResult
	GroupDoneFunc  func(ctx context.Context, d DoneWith) DoneResult
	TaskSetupFunc  func(ctx context.Context, a Adapter) SetupResult
	TaskDoneFunc   func(ctx context.Context, a Adapter, d DoneWith) DoneResult
	SyncFunc       func(ctx context.Context) DoneResult
	TimeoutFunc    func(ctx context.Context)
)

// Item is any node that can appear as a child of a Group: a nested Group, a
// Task, a Sync leaf, or a barrier leaf.
type Item interface {
	itemKind()
}

// Group is a non-leaf recipe node.
type Group struct {
	Mode      Mode
	Workflow  Workflow
	Setup     GroupSetupFunc
	Done      GroupDoneFunc
	Storages  []storageslot.Decl
	Timeout   time.Duration
	OnTimeout TimeoutFunc
	Children  []Item
}

func (*Group) itemKind() {}

// Task is a leaf recipe node backed by an external Adapter.
type Task struct {
	NewAdapter func() Adapter
	Setup      TaskSetupFunc
	Done       TaskDoneFunc
	Filter     Filter
	Timeout    time.Duration
	OnTimeout  TimeoutFunc
}

func (*Task) itemKind() {}

// Sync is a leaf that runs synchronously during scheduling and completes
// immediately with the handler's result.
type Sync struct {
	Fn SyncFunc
}

func (*Sync) itemKind() {}

// BarrierWait is a leaf that completes only once the referenced barrier
// (resolved as the active instance of BarrierKey) reaches its required
// advance count.
type BarrierWait struct {
	BarrierKey storageslot.Key
}

func (*BarrierWait) itemKind() {}

// BarrierAdvance is a Sync-shaped leaf whose only effect is to call
// Advance(N) on the referenced barrier. It is how a recipe records an
// advance event without reaching into the engine's internals — mirroring
// the `createBarrierAdvance` helper in the original Tasking test suite.
type BarrierAdvance struct {
	BarrierKey storageslot.Key
	N          int
}

func (*BarrierAdvance) itemKind() {}

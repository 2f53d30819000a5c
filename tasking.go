// Package tasking is a declarative, hierarchical task orchestration engine:
// build a tree of Groups, Tasks, Syncs and barriers describing how a batch
// of asynchronous work should run and in what order, hand it to a
// Controller, and let the engine drive it to completion.
//
// A Group is an internal node that runs its children according to a
// WorkflowPolicy (StopOnError, ContinueOnSuccess, ...) and a concurrency
// Mode (Sequential, Parallel, ParallelLimit(k)). A Task is a leaf backed by
// an external Adapter that does real asynchronous work and reports back
// exactly once. A Sync is a leaf that runs a plain function synchronously
// during scheduling. Storage declares a typed, shadowable value slot scoped
// to a subtree, and Barrier is an advance-counting rendezvous gate.
//
// Every handler the engine calls — group/task setup and done, sync
// functions, timeout callbacks — runs serialized on a single driver
// goroutine per running tree, so application code never needs its own
// locking to coordinate with the engine.
package tasking

import (
	"github.com/vk/tasking/internal/recipe"
)

// Outcome is what an Adapter reports exactly once via its Reporter callback.
type Outcome = recipe.Outcome

const (
	OutcomeSuccess = recipe.OutcomeSuccess
	OutcomeFailure = recipe.OutcomeFailure
)

// Reporter is the callback an Adapter invokes exactly once to report the
// terminal outcome of the work it started. Safe to call from any goroutine.
type Reporter = recipe.Reporter

// Adapter is the capability every external task implementation satisfies.
type Adapter = recipe.Adapter

// DoneWith is the outcome a done handler observes and a Controller reports.
type DoneWith = recipe.DoneWith

const (
	DoneSuccess = recipe.DoneSuccess
	DoneError   = recipe.DoneError
	DoneCancel  = recipe.DoneCancel
)

// SetupResult is returned by a group or task setup handler.
type SetupResult = recipe.SetupResult

const (
	Continue        = recipe.Continue
	StopWithSuccess = recipe.StopWithSuccess
	StopWithError   = recipe.StopWithError
)

// DoneResult is returned by a group or task done handler.
type DoneResult = recipe.DoneResult

const (
	ResultSuccess = recipe.ResultSuccess
	ResultError   = recipe.ResultError
)

// Filter controls whether a task's done handler runs at all.
type Filter = recipe.Filter

const (
	FilterAlways    = recipe.FilterAlways
	FilterOnSuccess = recipe.FilterOnSuccess
	FilterOnError   = recipe.FilterOnError
)

// Workflow is the policy converting children outcomes into a group outcome.
type Workflow = recipe.Workflow

const (
	StopOnError          = recipe.StopOnError
	ContinueOnError      = recipe.ContinueOnError
	StopOnSuccess        = recipe.StopOnSuccess
	ContinueOnSuccess    = recipe.ContinueOnSuccess
	StopOnSuccessOrError = recipe.StopOnSuccessOrError
	FinishAllAndSuccess  = recipe.FinishAllAndSuccess
	FinishAllAndError    = recipe.FinishAllAndError
)

// Handler function shapes, exported so application code can name handler
// variables with an explicit type instead of relying on inference.
type (
	GroupSetupFunc = recipe.GroupSetupFunc
	GroupDoneFunc  = recipe.GroupDoneFunc
	TaskSetupFunc  = recipe.TaskSetupFunc
	TaskDoneFunc   = recipe.TaskDoneFunc
	SyncFunc       = recipe.SyncFunc
	TimeoutFunc    = recipe.TimeoutFunc
)

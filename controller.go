package tasking

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vk/tasking/internal/ctxlog"
	"github.com/vk/tasking/internal/runtime"
)

// ControllerOption configures a Controller at construction time, the same
// functional-options shape the teacher's AppConfig uses.
type ControllerOption func(*controllerConfig)

type controllerConfig struct {
	logger *slog.Logger
	clock  runtime.Clock
}

// WithLogger attaches a structured logger; every log line the running tree
// emits is tagged with a per-run correlation id (see Controller.RunID).
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *controllerConfig) { c.logger = logger }
}

// WithClock overrides the clock timeouts are measured against, for tests
// that want deterministic, instantly-firing timeouts instead of real time.
func WithClock(clock runtime.Clock) ControllerOption {
	return func(c *controllerConfig) { c.clock = clock }
}

// Controller owns one compiled tree and drives it through its lifecycle:
// build with New, start with Start or RunBlocking, observe progress, and
// cancel cooperatively with Cancel.
type Controller struct {
	runID  string
	logger *slog.Logger
	tree   *runtime.Tree
}

// New compiles root into a runnable Controller. It returns an error if root
// is malformed — e.g. a barrier leaf references a key no ancestor declared.
func New(root GroupHandle, opts ...ControllerOption) (*Controller, error) {
	cfg := controllerConfig{logger: slog.Default(), clock: runtime.RealClock}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := root.g

	runID := uuid.NewString()
	logger := cfg.logger.With("run_id", runID)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	tree, err := runtime.Compile(ctx, g)
	if err != nil {
		return nil, err
	}
	tree.SetClock(cfg.clock)

	return &Controller{runID: runID, logger: logger, tree: tree}, nil
}

// RunID returns this Controller's correlation id, also attached to every
// log line it emits.
func (c *Controller) RunID() string { return c.runID }

// Start begins driving the tree asynchronously and returns immediately.
func (c *Controller) Start(ctx context.Context) {
	ctx = ctxlog.WithLogger(ctx, c.logger)
	c.tree.Start(ctx)
}

// RunBlocking starts the tree (if not already started) and blocks until it
// reaches a terminal outcome.
func (c *Controller) RunBlocking(ctx context.Context) DoneWith {
	ctx = ctxlog.WithLogger(ctx, c.logger)
	c.tree.Start(ctx)
	return <-c.tree.Done()
}

// Cancel cooperatively cancels the whole tree. Storage-done hooks still run
// once the cancellation settles.
func (c *Controller) Cancel() { c.tree.Cancel() }

// Stop cancels the tree and suppresses storage-done hooks — the explicit Go
// rendition of "dropping a running controller", since Go has no destructor
// to hook that behavior into implicitly.
func (c *Controller) Stop() { c.tree.Stop() }

// Done returns the channel the tree's terminal outcome is delivered on
// exactly once.
func (c *Controller) Done() <-chan DoneWith { return c.tree.Done() }

// ProgressValue and ProgressMaximum report how many of the tree's
// asynchronous leaves (tasks and barrier waits) have completed, out of how
// many exist in total.
func (c *Controller) ProgressValue() int   { return c.tree.ProgressValue() }
func (c *Controller) ProgressMaximum() int { return c.tree.ProgressMaximum() }

// StorageLive reports the number of storage instances currently
// instantiated anywhere in the tree, for tests asserting no zombie storage
// survives past its owning group.
func (c *Controller) StorageLive() int { return c.tree.StorageLive() }

// OnStorageSetup registers a callback invoked once the root group
// instantiates s's slot, if root's item list declares s directly.
func OnStorageSetup[T any](c *Controller, s Storage[T], fn func(*T)) {
	c.tree.OnStorageSetup(s.key, func(v any) { fn(v.(*T)) })
}

// OnStorageDone registers a callback invoked just before s's root-level
// slot is destroyed, unless the tree was abandoned via Controller.Stop.
func OnStorageDone[T any](c *Controller, s Storage[T], fn func(*T)) {
	c.tree.OnStorageDone(s.key, func(v any) { fn(v.(*T)) })
}

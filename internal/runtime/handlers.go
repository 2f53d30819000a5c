package runtime

import (
	"context"
	"errors"

	"github.com/vk/tasking/internal/recipe"
)

// errPanicked is the sentinel Task.Start error used when an adapter panics
// instead of returning an error, mirroring the teacher's single
// recover-and-log trampoline rather than letting a bad adapter take the
// whole driver goroutine down: a panicking handler is caught at the node
// boundary, logged, and converted to that node's Error outcome.
var errPanicked = errors.New("tasking: panic recovered at node boundary")

// resolverKey is the context key the node currently running a handler is
// stashed under, so the public package's Storage[T].Get(ctx) and
// Barrier.Current(ctx) can recover it through NodeFromContext.
type resolverKey struct{}

func (t *Tree) withNodeContext(ctx context.Context, n *Node) context.Context {
	return context.WithValue(ctx, resolverKey{}, n)
}

// NodeFromContext recovers the *Node a handler is currently executing for,
// used by the public package to resolve Storage[T] and Barrier handles
// against ActiveInstance.
func NodeFromContext(ctx context.Context) (*Node, bool) {
	n, ok := ctx.Value(resolverKey{}).(*Node)
	return n, ok
}

func (t *Tree) invokeGroupSetup(ctx context.Context, n *Node) (result recipe.SetupResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("group setup handler panicked", "path", n.path, "panic", r)
			result = recipe.StopWithError
		}
	}()
	return n.group.Setup(t.withNodeContext(ctx, n))
}

func (t *Tree) invokeGroupDone(ctx context.Context, n *Node, raw recipe.DoneWith) (result recipe.DoneResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("group done handler panicked", "path", n.path, "panic", r)
			result = recipe.ResultError
		}
	}()
	return n.group.Done(t.withNodeContext(ctx, n), raw)
}

func (t *Tree) invokeTaskSetup(ctx context.Context, n *Node, adapter recipe.Adapter) (result recipe.SetupResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("task setup handler panicked", "path", n.path, "panic", r)
			result = recipe.StopWithError
		}
	}()
	return n.task.Setup(t.withNodeContext(ctx, n), adapter)
}

func (t *Tree) invokeTaskDone(ctx context.Context, n *Node, adapter recipe.Adapter, raw recipe.DoneWith) (result recipe.DoneResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("task done handler panicked", "path", n.path, "panic", r)
			result = recipe.ResultError
		}
	}()
	return n.task.Done(t.withNodeContext(ctx, n), adapter, raw)
}

func (t *Tree) invokeSync(ctx context.Context, n *Node) (result recipe.DoneResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("sync handler panicked", "path", n.path, "panic", r)
			result = recipe.ResultError
		}
	}()
	return n.sync.Fn(t.withNodeContext(ctx, n))
}

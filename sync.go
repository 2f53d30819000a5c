package tasking

import (
	"context"

	"github.com/vk/tasking/internal/recipe"
)

// NewSync builds a Sync leaf: a plain function that runs synchronously
// during scheduling and completes immediately with its result.
func NewSync(fn SyncFunc) GroupItem {
	s := &recipe.Sync{Fn: fn}
	return childItem{item: s}
}

// NewSyncSimple widens a Sync function that always succeeds.
func NewSyncSimple(fn func()) GroupItem {
	return NewSync(func(ctx context.Context) DoneResult {
		fn()
		return ResultSuccess
	})
}

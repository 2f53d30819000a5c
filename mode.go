package tasking

import "github.com/vk/tasking/internal/recipe"

// Mode is a group's concurrency mode.
type Mode = recipe.Mode

// Sequential runs a group's children one at a time, in order. It is the
// default mode for a Group built without an explicit mode item.
func Sequential() Mode { return recipe.Sequential() }

// Parallel runs all of a group's children concurrently, with no cap.
func Parallel() Mode { return recipe.Parallel() }

// ParallelLimit runs up to k of a group's children concurrently.
func ParallelLimit(k int) Mode { return recipe.ParallelLimit(k) }

package tasking

import (
	"context"
	"fmt"

	"github.com/vk/tasking/internal/runtime"
	"github.com/vk/tasking/internal/storageslot"
)

// Storage declares a typed value slot scoped to the subtree of whichever
// Group lists it as a GroupItem. Every descendant of that group — unless a
// nested descendant group re-declares the same Storage[T] handle, shadowing
// it for its own subtree — resolves Get(ctx) to the same instance.
//
// A zero Storage[T] is not usable; create one with NewStorage.
type Storage[T any] struct {
	key  storageslot.Key
	init func() T
}

// NewStorage declares a fresh storage slot of type T, constructed with a
// T's zero value each time the declaring group is entered.
func NewStorage[T any](name string) Storage[T] {
	return Storage[T]{key: storageslot.NewKey(name)}
}

// NewStorageWithInit declares a storage slot whose instance is produced by
// init each time the declaring group is entered, instead of a zero value.
func NewStorageWithInit[T any](name string, init func() T) Storage[T] {
	return Storage[T]{key: storageslot.NewKey(name), init: init}
}

// Equal reports whether two handles refer to the same underlying
// declaration.
func (s Storage[T]) Equal(other Storage[T]) bool { return s.key == other.key }

func (s Storage[T]) applyToGroup(b *groupBuilder) {
	init := s.init
	b.g.Storages = append(b.g.Storages, storageslot.Decl{
		Key: s.key,
		NewDefault: func() any {
			v := new(T)
			if init != nil {
				*v = init()
			}
			return v
		},
	})
}

// Get resolves the active instance of this storage slot as seen from
// whatever node is currently executing the handler ctx was threaded
// through. It panics if called outside a handler invocation, or if no
// ancestor group (including the current one) declared this Storage[T] —
// both are compile-time-checkable mistakes in a correctly built tree, so a
// panic (rather than an error return thread through every handler
// signature) matches how the engine treats other "this tree is malformed"
// conditions.
func (s Storage[T]) Get(ctx context.Context) *T {
	n, ok := runtime.NodeFromContext(ctx)
	if !ok {
		panic("tasking: Storage[T].Get called outside a handler invocation")
	}
	v, ok := runtime.ActiveInstance(n, s.key)
	if !ok {
		panic(fmt.Sprintf("tasking: storage %q has no active instance on this path", s.key.Name()))
	}
	return v.(*T)
}

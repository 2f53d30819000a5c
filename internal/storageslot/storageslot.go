// Package storageslot defines the typed-storage declaration primitive used
// by the engine's runtime tree. A Key's identity is the pointer to its
// declMeta, not its contents, so copying a Decl (as the public
// tasking.Storage[T] wrapper does) preserves identity: a handle compares
// equal to another iff they refer to the same underlying declaration.
//
// Resolving which instance of a key is "active" for a given tree position is
// structural, not stack-based — see runtime.ActiveInstance — so this package
// only owns the declaration/key vocabulary, not instance bookkeeping.
package storageslot

// Key identifies a single storage declaration. Keys compare equal with ==
// iff they were produced by the same call to NewKey.
type Key struct {
	meta *declMeta
}

type declMeta struct {
	name string
}

// NewKey allocates a fresh, globally unique storage key. name is only used
// for diagnostics (log lines, error messages).
func NewKey(name string) Key {
	return Key{meta: &declMeta{name: name}}
}

// Name returns the diagnostic name the key was created with.
func (k Key) Name() string {
	if k.meta == nil {
		return "<zero-key>"
	}
	return k.meta.name
}

// Decl is the type-erased declaration of a storage slot: a key plus the
// constructor used to create a fresh instance when a group that declares it
// is entered.
type Decl struct {
	Key        Key
	NewDefault func() any
}

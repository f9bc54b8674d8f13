package dhcpbind

import (
	"context"
)

// Store is the durable storage of bindings.  Offered bindings are never
// stored.  All methods must be safe for concurrent use.
type Store interface {
	// Load returns all the stored bindings.
	Load(ctx context.Context) (bs []*Binding, err error)

	// Put stores b, replacing the binding with the same address if any.
	Put(ctx context.Context, b *Binding) (err error)

	// Delete removes the binding with the address of b.  It's not an error if
	// there is no such binding.
	Delete(ctx context.Context, b *Binding) (err error)

	// Close releases the resources of the store.
	Close() (err error)
}

// EmptyStore is a [Store] that keeps nothing.
type EmptyStore struct{}

// type check
var _ Store = EmptyStore{}

// Load implements the [Store] interface for EmptyStore.
func (EmptyStore) Load(_ context.Context) (bs []*Binding, err error) { return nil, nil }

// Put implements the [Store] interface for EmptyStore.
func (EmptyStore) Put(_ context.Context, _ *Binding) (err error) { return nil }

// Delete implements the [Store] interface for EmptyStore.
func (EmptyStore) Delete(_ context.Context, _ *Binding) (err error) { return nil }

// Close implements the [Store] interface for EmptyStore.
func (EmptyStore) Close() (err error) { return nil }

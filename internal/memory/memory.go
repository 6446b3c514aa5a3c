// Package memory tracks logical buffers over storage regions: reservation,
// sub-allocation, reference counting and deferred reclamation.
package memory

import "github.com/fxnlabs/function-compute/internal/storage"

// Management is the memory manager a server owns.
type Management interface {
	// Reserve returns a handle over size bytes, reusing free memory when the
	// slice strategy allows it.
	Reserve(size int) (*Handle, error)
	// Alloc always allocates a fresh chunk.
	Alloc(size int) (*Handle, error)
	// Get resolves a live handle to its storage resource.
	Get(handle *Handle) (storage.Resource, error)
	// Release drops one reference to the handle.
	Release(handle *Handle) error
	Storage() storage.Storage
	Usage() Usage
}

// Usage summarizes the manager state.
type Usage struct {
	Chunks   int
	Bindings int
	Reserved int
	InUse    int
}

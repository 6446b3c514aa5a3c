package memory

import (
	"sync/atomic"

	"github.com/fxnlabs/function-compute/internal/storage"
	"github.com/pkg/errors"
)

// ErrHandleReleased is returned when a handle is used after Release.
var ErrHandleReleased = errors.New("handle already released")

// binding is one sub-allocation of a chunk. Every handle derived from it,
// clones and slices alike, shares its reference count.
type binding struct {
	chunk  storage.ID
	offset int
	size   int
	refs   atomic.Int64
}

func (b *binding) live() bool {
	return b.refs.Load() > 0
}

func (b *binding) end() int {
	return b.offset + b.size
}

// Handle is a reference-counted view over a range of device memory.
//
// The range is fixed at creation. Clone and Slice add a reference to the same
// group; the underlying range becomes reusable once every reference has been
// released.
type Handle struct {
	binding  *binding
	offset   int
	size     int
	released atomic.Bool
}

func newHandle(b *binding, offset, size int) *Handle {
	b.refs.Add(1)
	return &Handle{binding: b, offset: offset, size: size}
}

// Size of the addressable range in bytes.
func (h *Handle) Size() int {
	return h.size
}

// Offset of the range inside its storage region.
func (h *Handle) Offset() int {
	return h.offset
}

// Region returns the storage region backing the handle.
func (h *Handle) Region() storage.ID {
	return h.binding.chunk
}

// Released reports whether Release was called on this handle.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// RefCount returns the number of live references in the handle's group.
func (h *Handle) RefCount() int64 {
	return h.binding.refs.Load()
}

// Clone returns a new reference to the same range.
func (h *Handle) Clone() (*Handle, error) {
	if h.Released() {
		return nil, ErrHandleReleased
	}
	return newHandle(h.binding, h.offset, h.size), nil
}

// Slice returns a reference to [offset, offset+size) relative to this handle.
func (h *Handle) Slice(offset, size int) (*Handle, error) {
	if h.Released() {
		return nil, ErrHandleReleased
	}
	if offset < 0 || size < 0 || offset+size > h.size {
		return nil, errors.Errorf("slice [%d, %d) out of range for handle of %d bytes", offset, offset+size, h.size)
	}
	return newHandle(h.binding, h.offset+offset, size), nil
}

// Release drops this reference. Releasing the same handle twice is an error.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}
	h.binding.refs.Add(-1)
	return nil
}

func (h *Handle) storageHandle() storage.Handle {
	return storage.Handle{
		ID:          h.binding.chunk,
		Utilization: storage.Utilization{Offset: h.offset, Size: h.size},
	}
}

// Package storage allocates raw device memory regions and hands out opaque
// resource locations over them.
package storage

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrOutOfMemory is returned when a region cannot be allocated on the device.
var ErrOutOfMemory = errors.New("out of device memory")

// ID identifies one allocated region.
type ID string

// NewID returns a fresh region identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// Utilization is the byte range of a region a handle refers to.
type Utilization struct {
	Offset int
	Size   int
}

// Handle locates a range inside an allocated region.
type Handle struct {
	ID ID
	Utilization
}

// Size of the range in bytes.
func (h Handle) Size() int {
	return h.Utilization.Size
}

// Resource is the device-side view of a handle, the thing kernels read and write.
type Resource struct {
	ID     ID
	Offset int
	Size   int
	buf    []byte
}

// NewResource wraps a backing buffer as a resource over [offset, offset+size).
func NewResource(id ID, buf []byte, offset, size int) Resource {
	return Resource{ID: id, Offset: offset, Size: size, buf: buf}
}

// Bytes returns the resource range. The slice aliases device memory and is only
// valid while the owning handle is alive.
func (r Resource) Bytes() []byte {
	return r.buf[r.Offset : r.Offset+r.Size : r.Offset+r.Size]
}

// Usage reports allocator accounting.
type Usage struct {
	Regions     int
	Allocated   int
	PendingFree int
	Capacity    int
}

// Storage is a raw device-memory allocator.
//
// Dealloc only schedules a region for reclamation. The region is returned to the
// device in PerformDeallocations, which callers invoke once the device queue no
// longer references it.
type Storage interface {
	Alloc(size int) (Handle, error)
	Get(handle Handle) (Resource, error)
	Dealloc(id ID)
	PerformDeallocations() int
	Usage() Usage
}

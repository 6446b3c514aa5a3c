// Package server owns one device: its memory manager and its command queue.
// Work is batched and submitted to the device queue lazily.
package server

import (
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/storage"
)

// State is the batching state of a server.
type State int

const (
	// Idle means no task is pending anywhere.
	Idle State = iota
	// Batching means tasks are accumulated but not yet submitted.
	Batching
	// Submitted means the device queue still has work in flight.
	Submitted
)

func (s State) String() string {
	switch s {
	case Batching:
		return "batching"
	case Submitted:
		return "submitted"
	default:
		return "idle"
	}
}

// Kernel is a compiled unit of device work. Launch receives the resources of
// the handles it was executed with, in the same order.
type Kernel interface {
	Name() string
	Launch(resources []storage.Resource) error
}

// CustomCommand runs synchronously against the server once all previously
// queued work has completed.
type CustomCommand func(srv Server, resources []storage.Resource) error

// MemoryUsage combines memory manager and storage accounting.
type MemoryUsage struct {
	memory.Usage
	Storage storage.Usage
}

// Server is the single-threaded device owner behind a channel.
type Server interface {
	// Read waits for pending work and copies the handle's bytes to the host.
	Read(handle *memory.Handle) ([]byte, error)
	// Create reserves memory and enqueues a copy of data into it.
	Create(data []byte) (*memory.Handle, error)
	// Empty reserves uninitialized memory.
	Empty(size int) (*memory.Handle, error)
	// Execute enqueues kernel over handles without waiting for it.
	Execute(kernel Kernel, handles []*memory.Handle) error
	// Sync waits for every queued task and reports device errors.
	Sync() error
	// RunCustomCommand drains the queue and runs f with the resources of handles.
	RunCustomCommand(f CustomCommand, handles []*memory.Handle) error
	State() State
	MemoryUsage() MemoryUsage
}

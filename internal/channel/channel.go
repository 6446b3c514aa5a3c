// Package channel serializes access to a server from many goroutines.
package channel

import (
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/server"
)

// Channel gives clients ordered access to one server. Calls made through a
// channel take effect on the server in the order they acquire it.
type Channel interface {
	Read(handle *memory.Handle) ([]byte, error)
	Create(data []byte) (*memory.Handle, error)
	Empty(size int) (*memory.Handle, error)
	Execute(kernel server.Kernel, handles []*memory.Handle) error
	Sync() error
	RunCustomCommand(f server.CustomCommand, handles []*memory.Handle) error
	State() server.State
	MemoryUsage() server.MemoryUsage
	// Close releases the channel. Calls after Close fail or return zero values.
	Close()
}

// Kind selects a channel implementation.
type Kind string

const (
	KindMutex  Kind = "mutex"
	KindWorker Kind = "worker"
)

// New creates a channel of the given kind around srv.
func New(kind Kind, srv server.Server) Channel {
	if kind == KindWorker {
		return NewWorkerChannel(srv)
	}
	return NewMutexChannel(srv)
}

package channel

import (
	"sync"

	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/server"
)

// MutexChannel holds one mutex for the duration of every server call.
type MutexChannel struct {
	mu     sync.Mutex
	server server.Server
}

// NewMutexChannel wraps srv.
func NewMutexChannel(srv server.Server) *MutexChannel {
	return &MutexChannel{server: srv}
}

func (c *MutexChannel) Read(handle *memory.Handle) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.Read(handle)
}

func (c *MutexChannel) Create(data []byte) (*memory.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.Create(data)
}

func (c *MutexChannel) Empty(size int) (*memory.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.Empty(size)
}

func (c *MutexChannel) Execute(kernel server.Kernel, handles []*memory.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.Execute(kernel, handles)
}

func (c *MutexChannel) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.Sync()
}

func (c *MutexChannel) RunCustomCommand(f server.CustomCommand, handles []*memory.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.RunCustomCommand(f, handles)
}

func (c *MutexChannel) State() server.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.State()
}

func (c *MutexChannel) MemoryUsage() server.MemoryUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.MemoryUsage()
}

// Close is a no-op; the server lives as long as the channel is referenced.
func (c *MutexChannel) Close() {}

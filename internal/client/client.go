// Package client is the user-facing handle to one compute device.
package client

import (
	"github.com/fxnlabs/function-compute/internal/channel"
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/server"
	"github.com/fxnlabs/function-compute/internal/tune"
)

// ComputeClient forwards work to a device through a channel and resolves
// autotuned operations through a tuner shared by all of its clones.
//
// A ComputeClient is safe for concurrent use. Copies made with Clone share the
// same channel and tuner and are interchangeable.
type ComputeClient struct {
	channel channel.Channel
	tuner   *tune.Tuner
	device  string
}

// New creates a client over ch. device is a display name for logs and the CLI.
func New(ch channel.Channel, tuner *tune.Tuner, device string) *ComputeClient {
	return &ComputeClient{channel: ch, tuner: tuner, device: device}
}

// Clone returns a client sharing this client's channel and tuner.
func (c *ComputeClient) Clone() *ComputeClient {
	return &ComputeClient{channel: c.channel, tuner: c.tuner, device: c.device}
}

// Device returns the device name the client was created for.
func (c *ComputeClient) Device() string {
	return c.device
}

// Tuner returns the shared tuner.
func (c *ComputeClient) Tuner() *tune.Tuner {
	return c.tuner
}

// Read returns the bytes behind handle once all earlier work has completed.
func (c *ComputeClient) Read(handle *memory.Handle) ([]byte, error) {
	return c.channel.Read(handle)
}

// Create uploads data and returns a handle to it.
func (c *ComputeClient) Create(data []byte) (*memory.Handle, error) {
	return c.channel.Create(data)
}

// Empty reserves size bytes of uninitialized device memory.
func (c *ComputeClient) Empty(size int) (*memory.Handle, error) {
	return c.channel.Empty(size)
}

// Execute enqueues kernel over handles.
func (c *ComputeClient) Execute(kernel server.Kernel, handles []*memory.Handle) error {
	return c.channel.Execute(kernel, handles)
}

// Sync blocks until all submitted work has completed.
func (c *ComputeClient) Sync() error {
	return c.channel.Sync()
}

// RunCustomCommand runs f against the server after earlier work completes.
func (c *ComputeClient) RunCustomCommand(f server.CustomCommand, handles []*memory.Handle) error {
	return c.channel.RunCustomCommand(f, handles)
}

// State reports the server batching state.
func (c *ComputeClient) State() server.State {
	return c.channel.State()
}

// MemoryUsage reports device memory accounting.
func (c *ComputeClient) MemoryUsage() server.MemoryUsage {
	return c.channel.MemoryUsage()
}

// AutotuneExecute runs the fastest variant of set, benchmarking on first use.
func (c *ComputeClient) AutotuneExecute(set tune.OperationSet) error {
	return c.tuner.ExecuteAutotune(set, c)
}

// AutotuneResult returns the cached winner for key.
func (c *ComputeClient) AutotuneResult(key tune.Key) (int, bool) {
	return c.tuner.AutotuneFastest(key)
}

// Close stops the channel. Clones share the channel, so it must only be called
// once the device is no longer used.
func (c *ComputeClient) Close() {
	c.channel.Close()
}

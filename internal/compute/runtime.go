// Package compute wires devices to clients: it opens adapters, builds the
// memory, server, channel and tuner stack for each device and keeps one client
// per device in a registry.
package compute

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fxnlabs/function-compute/internal/channel"
	"github.com/fxnlabs/function-compute/internal/client"
	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/registry"
	"github.com/fxnlabs/function-compute/internal/server"
	"github.com/fxnlabs/function-compute/internal/tune"
	"go.uber.org/zap"
)

// Runtime hands out device clients.
type Runtime struct {
	provider *gpu.Provider
	registry *registry.Registry
	defaults Options
	logger   *zap.Logger

	mu     sync.Mutex
	queues []gpu.Queue
}

// NewRuntime creates a runtime. Client uses defaults for devices created on
// first use.
func NewRuntime(provider *gpu.Provider, defaults Options, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		provider: provider,
		registry: registry.New(logger),
		defaults: defaults,
		logger:   logger.Named("runtime"),
	}
}

// Registry returns the client registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Provider returns the adapter provider.
func (r *Runtime) Provider() *gpu.Provider {
	return r.provider
}

// Client returns the client for device, opening the device with the default
// options on first use.
func (r *Runtime) Client(device gpu.Device) (*client.ComputeClient, error) {
	return r.registry.Client(device, func() (*client.ComputeClient, error) {
		return r.open(device, r.defaults)
	})
}

// Init opens device with explicit options and registers its client. It fails
// if the device already has a client.
func (r *Runtime) Init(device gpu.Device, opts Options) (*client.ComputeClient, error) {
	c, err := r.open(device, opts)
	if err != nil {
		return nil, err
	}
	if err := r.registry.Register(device, c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// InitExisting registers a client over a device context created by the caller,
// under gpu.Existing(id).
func (r *Runtime) InitExisting(id int, ctx *gpu.DeviceContext, opts Options) (*client.ComputeClient, error) {
	device := gpu.Existing(id)
	c := r.newClient(device, ctx, opts)
	if err := r.registry.Register(device, c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close closes every client and device queue and cleans up adapters.
func (r *Runtime) Close() error {
	r.registry.Close()

	r.mu.Lock()
	for _, q := range r.queues {
		q.Close()
	}
	r.queues = nil
	r.mu.Unlock()

	return r.provider.Cleanup()
}

func (r *Runtime) open(device gpu.Device, opts Options) (*client.ComputeClient, error) {
	ctx, err := r.provider.Open(device, gpu.OpenOptions{StorageCapacity: opts.StorageCapacity})
	if err != nil {
		return nil, err
	}
	return r.newClient(device, ctx, opts), nil
}

func (r *Runtime) newClient(device gpu.Device, ctx *gpu.DeviceContext, opts Options) *client.ComputeClient {
	r.mu.Lock()
	r.queues = append(r.queues, ctx.Queue)
	r.mu.Unlock()

	mm := memory.NewSimpleMemoryManagement(ctx.Storage, opts.DeallocStrategy, opts.SliceStrategy, r.logger)
	srv := server.NewQueueServer(mm, ctx.Queue, server.Options{MaxTasks: opts.MaxTasks, Device: device.String()}, r.logger)
	tuner := tune.NewTuner(TunerDeviceID(ctx.Info), opts.Tuner, r.logger)

	r.logger.Info("Created device client",
		zap.Stringer("device", device),
		zap.String("adapter", ctx.Info.Name),
		zap.Int("max_tasks", opts.MaxTasks),
		zap.Stringer("dealloc", opts.DeallocStrategy),
		zap.Stringer("slice", opts.SliceStrategy),
		zap.String("channel", string(opts.Channel)),
	)
	return client.New(channel.New(opts.Channel, srv), tuner, ctx.Info.Name)
}

// TunerDeviceID names a device for autotune results: backend, adapter name and
// adapter type, e.g. "host-cpu_(amd64)-cpu".
func TunerDeviceID(info gpu.DeviceInfo) string {
	name := strings.ToLower(strings.Join(strings.Fields(info.Name), "_"))
	return fmt.Sprintf("%s-%s-%s", info.Backend, name, info.Type)
}

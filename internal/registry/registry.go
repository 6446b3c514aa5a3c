// Package registry holds one compute client per device for the lifetime of the
// process.
package registry

import (
	"sort"
	"sync"

	"github.com/fxnlabs/function-compute/internal/client"
	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/fxnlabs/function-compute/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClientExists is returned when registering a device that already has a client.
var ErrClientExists = errors.New("device already has a client")

// InitFunc creates the client for a device the first time it is requested.
type InitFunc func() (*client.ComputeClient, error)

// Registry maps devices to their clients. Initialization runs at most once per
// device at a time; concurrent callers for the same device wait for it and
// share the result.
type Registry struct {
	mu      sync.RWMutex
	clients map[gpu.Device]*client.ComputeClient
	group   singleflight.Group
	logger  *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clients: make(map[gpu.Device]*client.ComputeClient),
		logger:  logger.Named("registry"),
	}
}

// Get returns the client registered for device.
func (r *Registry) Get(device gpu.Device) (*client.ComputeClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[device]
	return c, ok
}

// Client returns the client for device, running init if there is none yet.
// A failed init stores nothing, so a later call tries again.
func (r *Registry) Client(device gpu.Device, init InitFunc) (*client.ComputeClient, error) {
	if c, ok := r.Get(device); ok {
		return c, nil
	}

	v, err, _ := r.group.Do(device.String(), func() (interface{}, error) {
		if c, ok := r.Get(device); ok {
			return c, nil
		}

		c, err := init()
		if err != nil {
			return nil, errors.Wrapf(err, "initializing device %s", device)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.clients[device]; ok {
			c.Close()
			return existing, nil
		}
		r.clients[device] = c
		metrics.RegistryClients.Inc()
		r.logger.Info("Registered device client", zap.Stringer("device", device), zap.String("name", c.Device()))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.ComputeClient), nil
}

// Register installs a client built by the caller.
func (r *Registry) Register(device gpu.Device, c *client.ComputeClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[device]; ok {
		return errors.Wrapf(ErrClientExists, "device %s", device)
	}
	r.clients[device] = c
	metrics.RegistryClients.Inc()
	r.logger.Info("Registered device client", zap.Stringer("device", device), zap.String("name", c.Device()))
	return nil
}

// Devices lists registered devices in a stable order.
func (r *Registry) Devices() []gpu.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]gpu.Device, 0, len(r.clients))
	for d := range r.clients {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Kind != devices[j].Kind {
			return devices[i].Kind < devices[j].Kind
		}
		return devices[i].Index < devices[j].Index
	})
	return devices
}

// Close closes every client and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for d, c := range r.clients {
		c.Close()
		delete(r.clients, d)
		metrics.RegistryClients.Dec()
	}
}

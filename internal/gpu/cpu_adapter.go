package gpu

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/fxnlabs/function-compute/internal/storage"
	"go.uber.org/zap"
)

// CPUAdapter runs kernels on the host. It is always available and is the
// fallback when no accelerator matches.
type CPUAdapter struct {
	logger      *zap.Logger
	initialized atomic.Bool
}

// NewCPUAdapter creates a new CPU adapter instance
func NewCPUAdapter(logger *zap.Logger) *CPUAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CPUAdapter{
		logger: logger.Named("cpu_adapter"),
	}
}

// Initialize prepares the CPU adapter for use
func (c *CPUAdapter) Initialize() error {
	if !c.initialized.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Info("CPU adapter initialized", zap.String("arch", runtime.GOARCH))
	return nil
}

// Cleanup releases any resources (none for the CPU adapter)
func (c *CPUAdapter) Cleanup() error {
	c.initialized.Store(false)
	return nil
}

// IsAvailable checks if the adapter is available (always true for CPU)
func (c *CPUAdapter) IsAvailable() bool {
	return true
}

// Info returns device information for the host
func (c *CPUAdapter) Info() DeviceInfo {
	total, available := systemMemory()
	return DeviceInfo{
		Name:              fmt.Sprintf("CPU (%s)", runtime.GOARCH),
		Type:              AdapterCpu,
		Backend:           "host",
		TotalMemory:       total,
		AvailableMemory:   available,
		ComputeCapability: "N/A",
		DriverVersion:     runtime.Version(),
	}
}

// Open creates host storage and a host queue.
func (c *CPUAdapter) Open(opts OpenOptions) (*DeviceContext, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("CPU adapter not initialized")
	}
	return &DeviceContext{
		Info:    c.Info(),
		Storage: storage.NewBytesStorage(opts.StorageCapacity, c.logger),
		Queue:   NewHostQueue(c.logger),
	}, nil
}

package gpu

import "github.com/fxnlabs/function-compute/internal/storage"

// AdapterType is the physical kind of an adapter.
type AdapterType int

const (
	AdapterOther AdapterType = iota
	AdapterDiscreteGpu
	AdapterIntegratedGpu
	AdapterVirtualGpu
	AdapterCpu
)

func (t AdapterType) String() string {
	switch t {
	case AdapterDiscreteGpu:
		return "discrete"
	case AdapterIntegratedGpu:
		return "integrated"
	case AdapterVirtualGpu:
		return "virtual"
	case AdapterCpu:
		return "cpu"
	default:
		return "other"
	}
}

// DeviceInfo contains information about an adapter
type DeviceInfo struct {
	Name              string      `json:"name"`
	Type              AdapterType `json:"type"`
	Backend           string      `json:"backend"`
	TotalMemory       int64       `json:"totalMemory"`     // in bytes
	AvailableMemory   int64       `json:"availableMemory"` // in bytes
	ComputeCapability string      `json:"computeCapability"`
	DriverVersion     string      `json:"driverVersion"`
}

// OpenOptions configure the device context an adapter opens.
type OpenOptions struct {
	// StorageCapacity bounds device storage in bytes. Zero means no bound.
	StorageCapacity int
}

// DeviceContext is what a server needs from an opened device: somewhere to
// allocate memory and a queue to submit work to.
type DeviceContext struct {
	Info    DeviceInfo
	Storage storage.Storage
	Queue   Queue
}

// Adapter is one physical or virtual compute device the provider can open.
//
// Implementation notes:
// - IsAvailable must be cheap and must not initialize the device
// - Initialize is idempotent and is called by the Provider before Open
// - every DeviceContext returned by Open owns its own queue
type Adapter interface {
	// Info describes the adapter. Used for selection, logging and the tuner
	// device id.
	Info() DeviceInfo

	// IsAvailable checks if the adapter can be used at all.
	IsAvailable() bool

	// Initialize prepares the adapter for use.
	Initialize() error

	// Open creates a device context with its storage and command queue.
	Open(opts OpenOptions) (*DeviceContext, error)

	// Cleanup releases adapter-level resources.
	Cleanup() error
}

package gpu

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNoAdapter is returned when no adapter matches a device identity.
var ErrNoAdapter = errors.New("no adapter matches device")

// Provider handles adapter selection and lifecycle.
type Provider struct {
	mu       sync.RWMutex
	adapters []Adapter
	opened   map[Adapter]bool
	logger   *zap.Logger
}

// NewProvider creates a provider over the given adapters. Unavailable adapters
// are skipped during selection.
func NewProvider(logger *zap.Logger, adapters ...Adapter) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		adapters: adapters,
		opened:   make(map[Adapter]bool),
		logger:   logger.Named("provider"),
	}
}

// Adapters returns the available adapters in registration order.
func (p *Provider) Adapters() []Adapter {
	p.mu.RLock()
	defer p.mu.RUnlock()

	available := make([]Adapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		if a.IsAvailable() {
			available = append(available, a)
		}
	}
	return available
}

// Select picks the adapter for a device identity.
//
// For typed devices the n-th adapter of that type is chosen. When there are not
// enough adapters of the requested type the n-th adapter of type other is used
// instead. BestAvailable picks the highest scoring adapter.
func (p *Provider) Select(device Device) (Adapter, error) {
	adapters := p.Adapters()

	var want AdapterType
	switch device.Kind {
	case KindBestAvailable:
		return bestAdapter(adapters)
	case KindExisting:
		return nil, errors.Wrapf(ErrNoAdapter, "device %s must be registered, it cannot be created", device)
	case KindDiscreteGpu:
		want = AdapterDiscreteGpu
	case KindIntegratedGpu:
		want = AdapterIntegratedGpu
	case KindVirtualGpu:
		want = AdapterVirtualGpu
	case KindCpu:
		want = AdapterCpu
	default:
		return nil, errors.Wrapf(ErrNoAdapter, "unknown device kind %d", device.Kind)
	}

	var candidates, other []Adapter
	for _, a := range adapters {
		switch a.Info().Type {
		case want:
			candidates = append(candidates, a)
		case AdapterOther:
			other = append(other, a)
		}
	}

	n := device.Index
	if n < len(candidates) {
		return candidates[n], nil
	}
	if n < len(other) {
		return other[n], nil
	}
	return nil, errors.Wrapf(ErrNoAdapter, "device %s (%d %s adapters, %d other)", device, len(candidates), want, len(other))
}

// Open selects and initializes the adapter for device and opens a context on it.
func (p *Provider) Open(device Device, opts OpenOptions) (*DeviceContext, error) {
	adapter, err := p.Select(device)
	if err != nil {
		return nil, err
	}

	if err := adapter.Initialize(); err != nil {
		return nil, errors.Wrapf(err, "failed to initialize adapter %s", adapter.Info().Name)
	}

	ctx, err := adapter.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open adapter %s", adapter.Info().Name)
	}

	p.mu.Lock()
	p.opened[adapter] = true
	p.mu.Unlock()

	p.logger.Info("Opened device",
		zap.Stringer("device", device),
		zap.String("adapter", ctx.Info.Name),
		zap.Stringer("type", ctx.Info.Type),
		zap.String("backend", ctx.Info.Backend),
	)
	return ctx, nil
}

// Cleanup releases every adapter this provider opened.
func (p *Provider) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for a := range p.opened {
		if err := a.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.opened, a)
	}
	return firstErr
}

func adapterScore(t AdapterType) int {
	switch t {
	case AdapterDiscreteGpu:
		return 5
	case AdapterOther:
		return 4
	case AdapterIntegratedGpu:
		return 3
	case AdapterVirtualGpu:
		return 2
	case AdapterCpu:
		return 1
	default:
		return 0
	}
}

func bestAdapter(adapters []Adapter) (Adapter, error) {
	var best Adapter
	bestScore := -1
	for _, a := range adapters {
		if s := adapterScore(a.Info().Type); s > bestScore {
			best, bestScore = a, s
		}
	}
	if best == nil {
		return nil, errors.Wrap(ErrNoAdapter, "no adapters available")
	}
	return best, nil
}

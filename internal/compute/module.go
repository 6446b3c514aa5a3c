package compute

import (
	"context"

	"github.com/fxnlabs/function-compute/internal/config"
	"github.com/fxnlabs/function-compute/internal/gpu"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a *Runtime built from *config.Config and *zap.Logger. The
// runtime is closed when the application stops.
var Module = fx.Module("compute",
	fx.Provide(
		NewDefaultProvider,
		NewRuntimeFromConfig,
	),
)

// NewDefaultProvider creates a provider over the adapters compiled into the binary.
func NewDefaultProvider(logger *zap.Logger) *gpu.Provider {
	return gpu.NewProvider(logger, gpu.DefaultAdapters(logger)...)
}

// NewRuntimeFromConfig creates a runtime whose default options come from cfg.
func NewRuntimeFromConfig(lc fx.Lifecycle, cfg *config.Config, provider *gpu.Provider, logger *zap.Logger) (*Runtime, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rt := NewRuntime(provider, opts, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rt.Close()
		},
	})
	return rt, nil
}

package compute

import (
	"os"
	"strconv"

	"github.com/fxnlabs/function-compute/internal/channel"
	"github.com/fxnlabs/function-compute/internal/config"
	"github.com/fxnlabs/function-compute/internal/memory"
	"github.com/fxnlabs/function-compute/internal/server"
	"github.com/fxnlabs/function-compute/internal/tune"
	"github.com/pkg/errors"
)

// Options configure the client stack created for a device.
type Options struct {
	MaxTasks        int
	DeallocStrategy memory.DeallocStrategy
	SliceStrategy   memory.SliceStrategy
	Channel         channel.Kind
	// StorageCapacity bounds device storage in bytes. Zero means no bound.
	StorageCapacity int
	Tuner           tune.Options
}

// DefaultOptions batches FXN_COMPUTE_MAX_TASKS tasks (64 when unset or
// invalid), reclaims memory every 2 × MaxTasks reservations and slices free
// ranges at a ratio of 0.8.
func DefaultOptions() Options {
	maxTasks := server.DefaultMaxTasks
	if v, err := strconv.Atoi(os.Getenv(config.EnvMaxTasks)); err == nil && v > 0 {
		maxTasks = v
	}
	return Options{
		MaxTasks:        maxTasks,
		DeallocStrategy: memory.PeriodTick(2 * maxTasks),
		SliceStrategy:   memory.SliceRatio(0.8),
		Channel:         channel.KindMutex,
		Tuner:           tune.DefaultOptions(),
	}
}

// OptionsFromConfig converts the runtime and tuner sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		MaxTasks:        cfg.Runtime.MaxTasks,
		Channel:         channel.Kind(cfg.Runtime.Channel),
		StorageCapacity: cfg.Runtime.StorageCapacity,
		Tuner: tune.Options{
			WarmupRuns: cfg.Tuner.WarmupRuns,
			Samples:    cfg.Tuner.Samples,
			CachePath:  cfg.Tuner.CachePath,
		},
	}
	if opts.MaxTasks < 1 {
		opts.MaxTasks = server.DefaultMaxTasks
	}

	opts.DeallocStrategy = memory.PeriodTick(2 * opts.MaxTasks)
	if cfg.Runtime.DeallocStrategy != "" {
		s, err := memory.ParseDeallocStrategy(cfg.Runtime.DeallocStrategy)
		if err != nil {
			return Options{}, errors.Wrap(err, "runtime.deallocStrategy")
		}
		opts.DeallocStrategy = s
	}

	opts.SliceStrategy = memory.SliceRatio(0.8)
	if cfg.Runtime.SliceStrategy != "" {
		s, err := memory.ParseSliceStrategy(cfg.Runtime.SliceStrategy)
		if err != nil {
			return Options{}, errors.Wrap(err, "runtime.sliceStrategy")
		}
		opts.SliceStrategy = s
	}
	return opts, nil
}

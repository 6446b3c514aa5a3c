package tune

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fxnlabs/function-compute/internal/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Options configure benchmarking and persistence.
type Options struct {
	// WarmupRuns are executed before timing a variant.
	WarmupRuns int
	// Samples is the number of timed runs per variant.
	Samples int
	// CachePath persists winners across processes when set.
	CachePath string
}

// DefaultOptions returns one warm-up run and ten samples, without persistence.
func DefaultOptions() Options {
	return Options{WarmupRuns: 1, Samples: 10}
}

// Result is a cached autotune outcome.
type Result struct {
	Index  int           `yaml:"index"`
	Name   string        `yaml:"name"`
	Median time.Duration `yaml:"median"`
}

// Tuner benchmarks operation sets and caches the fastest variant per key.
//
// Lookups take a read lock. Benchmarking runs without any lock held, so
// concurrent first calls for one key may all benchmark; the last insert wins
// and every caller still runs a correct variant.
type Tuner struct {
	mu       sync.RWMutex
	cache    map[string]Result
	deviceID string
	opts     Options
	store    *fileCache
	logger   *zap.Logger
}

// NewTuner creates a tuner for one device. If opts.CachePath is set, results
// previously saved for deviceID are loaded.
func NewTuner(deviceID string, opts Options, logger *zap.Logger) *Tuner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Samples < 1 {
		opts.Samples = DefaultOptions().Samples
	}
	if opts.WarmupRuns < 0 {
		opts.WarmupRuns = 0
	}

	t := &Tuner{
		cache:    make(map[string]Result),
		deviceID: deviceID,
		opts:     opts,
		logger:   logger.Named("tuner").With(zap.String("device", deviceID)),
	}

	if opts.CachePath != "" {
		t.store = newFileCache(opts.CachePath)
		loaded, err := t.store.load(deviceID)
		if err != nil {
			t.logger.Warn("Failed to load autotune cache", zap.String("path", opts.CachePath), zap.Error(err))
		}
		for k, r := range loaded {
			t.cache[k] = r
		}
		if len(loaded) > 0 {
			t.logger.Info("Loaded autotune cache", zap.Int("entries", len(loaded)))
		}
	}
	return t
}

// DeviceID returns the device the tuner measures.
func (t *Tuner) DeviceID() string {
	return t.deviceID
}

// AutotuneFastest returns the cached winner index for key.
func (t *Tuner) AutotuneFastest(key Key) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.cache[key.String()]
	return r.Index, ok
}

// Results returns a copy of every cached result.
func (t *Tuner) Results() map[string]Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Result, len(t.cache))
	for k, r := range t.cache {
		out[k] = r
	}
	return out
}

// ExecuteAutotune runs the fastest variant of set, benchmarking the variants
// first if its key has no cached winner. The returned error is that of the
// production run; benchmark failures only disqualify variants.
func (t *Tuner) ExecuteAutotune(set OperationSet, syncer Syncer) error {
	key := set.Key().String()

	if op, ok := t.cached(key, set); ok {
		metrics.AutotuneCacheHits.WithLabelValues(t.deviceID).Inc()
		return op.Execute()
	}
	metrics.AutotuneCacheMisses.WithLabelValues(t.deviceID).Inc()

	result, ok := t.benchmark(key, set.Autotunables(), syncer)
	if !ok {
		fallback := set.FallbackIndex()
		t.logger.Warn("No variant could be benchmarked, running fallback",
			zap.String("key", key),
			zap.Int("fallback", fallback),
		)
		return t.run(set, fallback)
	}

	t.insert(key, result)
	return t.run(set, result.Index)
}

// cached returns the production operation of the cached winner for key. An
// entry whose index or name no longer matches the set's variants, as happens
// when a persisted cache outlives a change to the variant list, is dropped.
func (t *Tuner) cached(key string, set OperationSet) (Operation, bool) {
	t.mu.RLock()
	r, ok := t.cache[key]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}

	op := set.Fastest(r.Index)
	if op != nil && (r.Name == "" || op.Name() == r.Name) {
		return op, true
	}

	t.mu.Lock()
	if cur, ok := t.cache[key]; ok && cur == r {
		delete(t.cache, key)
	}
	t.mu.Unlock()
	t.logger.Warn("Dropping stale autotune entry",
		zap.String("key", key),
		zap.Int("index", r.Index),
		zap.String("variant", r.Name),
	)
	return nil, false
}

func (t *Tuner) run(set OperationSet, index int) error {
	op := set.Fastest(index)
	if op == nil {
		return errors.Errorf("operation set %s has no variant %d", set.Key(), index)
	}
	return op.Execute()
}

func (t *Tuner) insert(key string, r Result) {
	t.mu.Lock()
	t.cache[key] = r
	t.mu.Unlock()

	metrics.AutotuneWinners.WithLabelValues(t.deviceID, key, r.Name).Inc()
	t.logger.Info("Autotune winner",
		zap.String("key", key),
		zap.String("variant", r.Name),
		zap.Int("index", r.Index),
		zap.Duration("median", r.Median),
	)

	if t.store != nil {
		if err := t.store.save(t.deviceID, t.Results()); err != nil {
			t.logger.Warn("Failed to persist autotune cache", zap.Error(err))
		}
	}
}

// benchmark measures every variant and returns the one with the lowest median.
func (t *Tuner) benchmark(key string, ops []Operation, syncer Syncer) (Result, bool) {
	start := time.Now()
	defer func() {
		metrics.AutotuneBenchmarkDuration.WithLabelValues(t.deviceID).Observe(float64(time.Since(start).Milliseconds()))
	}()

	best := Result{Index: -1, Median: time.Duration(math.MaxInt64)}
	for i, op := range ops {
		median, err := t.measure(op, syncer)
		if err != nil {
			metrics.AutotuneVariantFailures.WithLabelValues(t.deviceID).Inc()
			t.logger.Debug("Variant disqualified",
				zap.String("key", key),
				zap.String("variant", op.Name()),
				zap.Error(err),
			)
			continue
		}
		t.logger.Debug("Variant measured",
			zap.String("key", key),
			zap.String("variant", op.Name()),
			zap.Duration("median", median),
		)
		if median < best.Median {
			best = Result{Index: i, Name: op.Name(), Median: median}
		}
	}
	return best, best.Index >= 0
}

// measure returns the median wall time of Execute plus Sync over the
// configured samples. Any error or panic disqualifies the variant.
func (t *Tuner) measure(op Operation, syncer Syncer) (median time.Duration, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("variant %s panicked: %v", op.Name(), rec)
		}
	}()

	once := func() error {
		if err := op.Execute(); err != nil {
			return err
		}
		return syncer.Sync()
	}

	for i := 0; i < t.opts.WarmupRuns; i++ {
		if err := once(); err != nil {
			return 0, err
		}
	}

	samples := make([]float64, t.opts.Samples)
	for i := range samples {
		start := time.Now()
		if err := once(); err != nil {
			return 0, err
		}
		samples[i] = float64(time.Since(start))
	}
	sort.Float64s(samples)
	return time.Duration(stat.Quantile(0.5, stat.Empirical, samples, nil)), nil
}

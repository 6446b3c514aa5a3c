package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServerMetrics(t *testing.T) {
	t.Run("ServerFlushes", func(t *testing.T) {
		before := testutil.ToFloat64(ServerFlushes.WithLabelValues("metrics-test"))
		ServerFlushes.WithLabelValues("metrics-test").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(ServerFlushes.WithLabelValues("metrics-test")))
	})

	t.Run("ServerBatchSize", func(t *testing.T) {
		assert.NotPanics(t, func() {
			ServerBatchSize.WithLabelValues("metrics-test").Observe(64)
		})
	})

	t.Run("KernelLaunches", func(t *testing.T) {
		KernelLaunches.WithLabelValues("metrics-test", "noop").Add(3)
		assert.Equal(t, float64(3), testutil.ToFloat64(KernelLaunches.WithLabelValues("metrics-test", "noop")))
	})
}

func TestMemoryMetrics(t *testing.T) {
	MemoryReservedBytes.WithLabelValues("metrics-test").Set(4096)
	assert.Equal(t, float64(4096), testutil.ToFloat64(MemoryReservedBytes.WithLabelValues("metrics-test")))

	MemoryInUseBytes.WithLabelValues("metrics-test").Set(1024)
	assert.Equal(t, float64(1024), testutil.ToFloat64(MemoryInUseBytes.WithLabelValues("metrics-test")))

	before := testutil.ToFloat64(MemoryChunkAllocations)
	MemoryChunkAllocations.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MemoryChunkAllocations))
}

func TestAutotuneMetrics(t *testing.T) {
	AutotuneCacheHits.WithLabelValues("metrics-test").Inc()
	AutotuneCacheMisses.WithLabelValues("metrics-test").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(AutotuneCacheHits.WithLabelValues("metrics-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(AutotuneCacheMisses.WithLabelValues("metrics-test")))

	assert.NotPanics(t, func() {
		AutotuneBenchmarkDuration.WithLabelValues("metrics-test").Observe(12.5)
	})
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		ServerFlushes,
		ServerBatchSize,
		ServerSyncDuration,
		KernelLaunches,
		MemoryReservedBytes,
		MemoryInUseBytes,
		MemoryChunkAllocations,
		MemoryChunksReclaimed,
		AutotuneCacheHits,
		AutotuneCacheMisses,
		AutotuneVariantFailures,
		AutotuneBenchmarkDuration,
		AutotuneWinners,
		RegistryClients,
	}

	for _, c := range collectors {
		// Already registered through promauto, so a second registration must fail.
		err := prometheus.Register(c)
		assert.Error(t, err)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already)
	}
}

func BenchmarkMetricsObservation(b *testing.B) {
	b.Run("ObserveBatchSize", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			ServerBatchSize.WithLabelValues("bench").Observe(float64(i % 64))
		}
	})

	b.Run("IncLaunches", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			KernelLaunches.WithLabelValues("bench", "noop").Inc()
		}
	})
}

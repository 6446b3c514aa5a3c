package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Server metrics
	ServerFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_server_flushes_total",
		Help: "The total number of task batches submitted to a device queue",
	}, []string{"device"})

	ServerBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compute_server_batch_tasks",
		Help:    "Number of tasks in each submitted batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512 tasks
	}, []string{"device"})

	ServerSyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compute_server_sync_duration_ms",
		Help:    "Time spent waiting for a device queue to drain in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"device"})

	KernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_kernel_launches_total",
		Help: "The total number of kernels enqueued, by kernel name",
	}, []string{"device", "kernel"})

	// Memory metrics
	MemoryReservedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "compute_memory_reserved_bytes",
		Help: "Bytes held in chunks by a device memory manager",
	}, []string{"device"})

	MemoryInUseBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "compute_memory_in_use_bytes",
		Help: "Bytes referenced by live handles on a device",
	}, []string{"device"})

	MemoryChunkAllocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compute_memory_chunk_allocations_total",
		Help: "The total number of chunks allocated from device storage",
	})

	MemoryChunksReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "compute_memory_chunks_reclaimed_total",
		Help: "The total number of free chunks handed back to device storage",
	})

	// Autotune metrics
	AutotuneCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_autotune_cache_hits_total",
		Help: "Autotune executions served from the tuner cache",
	}, []string{"device"})

	AutotuneCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_autotune_cache_misses_total",
		Help: "Autotune executions that had to benchmark",
	}, []string{"device"})

	AutotuneVariantFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_autotune_variant_failures_total",
		Help: "Variants that failed or were inapplicable during benchmarking",
	}, []string{"device"})

	AutotuneBenchmarkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compute_autotune_benchmark_duration_ms",
		Help:    "Duration of a full benchmarking pass in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
	}, []string{"device"})

	AutotuneWinners = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_autotune_winners_total",
		Help: "Variants selected by autotuning, by operation key",
	}, []string{"device", "key", "variant"})

	// Registry metrics
	RegistryClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "compute_registry_clients",
		Help: "Number of device clients held by all runtime registries",
	})
)

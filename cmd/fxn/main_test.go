package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxnlabs/function-compute/fixtures"
	"github.com/fxnlabs/function-compute/internal/compute"
	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := loadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "best", cfg.Runtime.Device)
	})

	t.Run("template", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), fixtures.ConfigTemplate, 0o644))
		cfg, err := loadConfig(home)
		require.NoError(t, err)
		assert.Equal(t, "console", cfg.Logger.Encoding)
	})

	t.Run("broken file", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("runtime: ["), 0o644))
		_, err := loadConfig(home)
		assert.Error(t, err)
	})
}

func TestRunBench(t *testing.T) {
	logger := zap.NewNop()
	opts := compute.DefaultOptions()
	opts.Tuner.Samples = 2
	rt := compute.NewRuntime(compute.NewDefaultProvider(logger), opts, logger)
	defer rt.Close()

	cl, err := rt.Client(gpu.Cpu())
	require.NoError(t, err)

	results, err := runBench(cl, []int{8, 16}, logger)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "matmul_f32_8x8x8", results[0].key)
	assert.NotEqual(t, "fallback", results[0].variant)

	out := resultsTable(results)
	assert.True(t, strings.Contains(out, "matmul_f32_16x16x16"))
	assert.Contains(t, memoryTable(cl.MemoryUsage()), "Chunks")

	_, err = runBench(cl, []int{0}, logger)
	assert.Error(t, err)
}

func TestAdaptersTable(t *testing.T) {
	logger := zap.NewNop()
	out := adaptersTable(compute.NewDefaultProvider(logger).Adapters())
	assert.Contains(t, out, "CPU")
	assert.Contains(t, out, "host")
}

func TestBench_ServeMetricsStopsWithContext(t *testing.T) {
	home := t.TempDir()
	cfg := `logger:
  verbosity: error
runtime:
  device: cpu
tuner:
  samples: 2
  cachePath: ` + filepath.Join(home, "autotune.yaml") + `
metrics:
  listenAddress: 127.0.0.1:0
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cfg), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- newApp().RunContext(ctx, []string{"fxn", "--home", home, "bench", "--size", "8", "--serve-metrics"})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("bench did not return after its context was cancelled")
	}
	assert.FileExists(t, filepath.Join(home, "autotune.yaml"))
}

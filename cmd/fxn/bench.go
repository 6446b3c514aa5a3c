package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/fxnlabs/function-compute/internal/client"
	"github.com/fxnlabs/function-compute/internal/compute"
	"github.com/fxnlabs/function-compute/internal/config"
	"github.com/fxnlabs/function-compute/internal/gpu"
	"github.com/fxnlabs/function-compute/internal/kernels"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type benchResult struct {
	shape   kernels.MatmulShape
	key     string
	variant string
	median  time.Duration
	elapsed time.Duration
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Autotune float32 matmul on a device and report the winning kernels",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Usage: "Device to run on (best, discrete:<n>, integrated:<n>, virtual:<n>, cpu)"},
			&cli.IntSliceFlag{Name: "size", Value: cli.NewIntSlice(64, 128, 256), Usage: "Square matrix sizes to benchmark"},
			&cli.BoolFlag{Name: "serve-metrics", Usage: "Keep serving metrics on metrics.listenAddress after the run"},
		},
		Action: func(c *cli.Context) error {
			cfg, log := metadata(c)

			deviceName := cfg.Runtime.Device
			if c.IsSet("device") {
				deviceName = c.String("device")
			}
			device, err := gpu.ParseDevice(deviceName)
			if err != nil {
				return err
			}

			var rt *compute.Runtime
			app := fx.New(
				fx.NopLogger,
				fx.Supply(cfg, log),
				compute.Module,
				fx.Invoke(registerMetricsServer),
				fx.Populate(&rt),
			)
			startCtx, cancelStart := context.WithTimeout(context.Background(), app.StartTimeout())
			defer cancelStart()
			if err := app.Start(startCtx); err != nil {
				return fmt.Errorf("failed to start runtime: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := app.Stop(ctx); err != nil {
					log.Warn("Failed to stop runtime", zap.Error(err))
				}
			}()

			cl, err := rt.Client(device)
			if err != nil {
				return err
			}

			printBanner("FxN Bench")
			fmt.Printf("Device: %s (%s)\n\n", device, cl.Device())

			results, err := runBench(cl, c.IntSlice("size"), log)
			if err != nil {
				return err
			}
			fmt.Println(resultsTable(results))
			fmt.Println(memoryTable(cl.MemoryUsage()))

			if c.Bool("serve-metrics") && cfg.Metrics.ListenAddress != "" {
				log.Info("Serving metrics, interrupt to exit", zap.String("address", cfg.Metrics.ListenAddress))
				<-c.Context.Done()
			}
			return nil
		},
	}
}

func runBench(cl *client.ComputeClient, sizes []int, log *zap.Logger) ([]benchResult, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	results := make([]benchResult, 0, len(sizes))

	for _, size := range sizes {
		if size < 1 {
			return nil, fmt.Errorf("invalid matrix size %d", size)
		}
		shape := kernels.MatmulShape{M: size, K: size, N: size}
		a := make([]float32, size*size)
		b := make([]float32, size*size)
		for i := range a {
			a[i] = rng.Float32()
			b[i] = rng.Float32()
		}

		start := time.Now()
		if _, err := kernels.Matmul(cl, a, b, shape); err != nil {
			return nil, fmt.Errorf("matmul %s: %w", shape, err)
		}
		elapsed := time.Since(start)

		key := kernels.NewMatmulKey(shape).String()
		r := benchResult{shape: shape, key: key, variant: "fallback", elapsed: elapsed}
		if tuned, ok := cl.Tuner().Results()[key]; ok {
			r.variant = tuned.Name
			r.median = tuned.Median
		}
		log.Debug("Benchmarked matmul", zap.Stringer("shape", shape), zap.String("variant", r.variant))
		results = append(results, r)
	}
	return results, nil
}

// registerMetricsServer serves Prometheus metrics while the application runs,
// if metrics.listenAddress is set.
func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	if cfg.Metrics.ListenAddress == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("Serving metrics", zap.String("address", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

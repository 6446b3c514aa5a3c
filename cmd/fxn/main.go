package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fxnlabs/function-compute/internal/config"
	"github.com/fxnlabs/function-compute/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := newApp()
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		if rootLogger, ok := app.Metadata["logger"].(*zap.Logger); ok {
			rootLogger.Fatal("failed to run app", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// newApp builds the CLI. Commands see the run context, which main cancels on
// SIGINT or SIGTERM.
func newApp() *cli.App {
	var home string

	return &cli.App{
		Name:  "fxn",
		Usage: "Inspect compute devices and autotune kernels on them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "home",
				Value:       config.GetDefaultConfigHome(),
				Usage:       "Path to the fxn home directory",
				EnvVars:     []string{"FXN_HOME"},
				Destination: &home,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(home)
			if err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("cli")
			c.App.Metadata["homeDir"] = home
			return nil
		},
		Commands: []*cli.Command{
			initCommand(),
			devicesCommand(),
			benchCommand(),
		},
	}
}

// loadConfig reads <home>/config.yaml, falling back to the defaults when the
// file does not exist.
func loadConfig(home string) (*config.Config, error) {
	cfg, err := config.LoadConfig(filepath.Join(home, "config.yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func metadata(c *cli.Context) (*config.Config, *zap.Logger) {
	return c.App.Metadata["config"].(*config.Config), c.App.Metadata["logger"].(*zap.Logger)
}

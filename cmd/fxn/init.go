package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxnlabs/function-compute/fixtures"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config.yaml to the home directory",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing config"},
		},
		Action: func(c *cli.Context) error {
			_, log := metadata(c)
			homeDir := c.App.Metadata["homeDir"].(string)
			path := filepath.Join(homeDir, "config.yaml")

			if _, err := os.Stat(path); err == nil && !c.Bool("force") {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			}
			if err := os.MkdirAll(homeDir, 0o755); err != nil {
				return fmt.Errorf("failed to create home directory: %w", err)
			}
			if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			log.Info("Wrote config", zap.String("path", path))
			return nil
		},
	}
}

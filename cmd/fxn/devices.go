package main

import (
	"fmt"

	"github.com/fxnlabs/function-compute/internal/compute"
	"github.com/urfave/cli/v2"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the compute adapters available on this machine",
		Action: func(c *cli.Context) error {
			_, log := metadata(c)
			provider := compute.NewDefaultProvider(log)

			printBanner("FxN Compute")
			adapters := provider.Adapters()
			if len(adapters) == 0 {
				fmt.Println("No adapters available.")
				return nil
			}
			fmt.Println(adaptersTable(adapters))
			return nil
		},
	}
}

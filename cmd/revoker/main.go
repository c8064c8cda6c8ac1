package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "revoker",
		Usage: "Re-validate stored hub messages against on-chain state and revoke invalid ones",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run validate-or-revoke passes on a schedule",
				Flags:  runFlags(),
				Action: run,
			},
			{
				Name:   "status",
				Usage:  "Print the stored validate-or-revoke checkpoint",
				Flags:  nodeStateFlags(),
				Action: status,
			},
			{
				Name:   "reset-checkpoint",
				Usage:  "Delete the stored checkpoint so the next pass starts a fresh sweep",
				Flags:  nodeStateFlags(),
				Action: resetCheckpoint,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

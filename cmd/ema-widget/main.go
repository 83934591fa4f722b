package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	version = "0.1.0"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "ema-widget",
		Usage:   "Chat with the project assistant from the terminal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to `FILE` instead of stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level (trace, debug, info, warn, error)",
				Value: "info",
			},
		},
		Before: setupLogging,
		After:  closeLogging,
		Commands: []*cli.Command{
			ChatCommand(),
			AskCommand(),
			HistoryCommand(),
			ConfigCommand(),
			SchemaCommand(),
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

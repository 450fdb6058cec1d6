// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
)

const appName = "pulsectl"

var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    appName,
		Usage:   "Administer and watch a VisitorPulse deployment",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yaml (defaults to CONFIG_PATH and the usual locations)",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "Log level for pulsectl itself",
			},
		},
		Before: func(c *cli.Context) error {
			lc := logging.DefaultConfig()
			lc.Level = c.String("log-level")
			lc.Format = "console"
			lc.Output = c.App.ErrWriter
			logging.Init(lc)
			return nil
		},
		Commands: []*cli.Command{
			projectCmd(),
			tokenCmd(),
			dlqCmd(),
			watchCmd(),
		},
	}
}

// loadConfig honours --config, falling back to the server's lookup rules.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

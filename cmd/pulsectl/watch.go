// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tomtom215/visitorpulse/internal/reconcile"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow new visitors of a project, live with polling fallback",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", Usage: "Ingestion server base URL"},
			&cli.StringFlag{Name: "project", Usage: "Project id", Required: true},
			&cli.StringFlag{Name: "token", Usage: "Project token", Required: true, EnvVars: []string{"PULSE_TOKEN"}},
			&cli.DurationFlag{Name: "debounce", Usage: "Minimum gap between notifications (overrides config)"},
			&cli.BoolFlag{Name: "quiet", Usage: "Track visitors without printing notifications"},
			&cli.DurationFlag{Name: "for", Usage: "Stop after this long (0 runs until interrupted)"},
			&cli.BoolFlag{Name: "log", Usage: "Print the decision log on exit"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("debounce") {
				cfg.Reconcile.Debounce = c.Duration("debounce")
			}
			if c.Bool("quiet") {
				cfg.Reconcile.Notifications = false
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if d := c.Duration("for"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			printer := &notificationPrinter{out: c.App.Writer}
			rt := reconcile.NewRuntime(cfg, reconcile.RuntimeOptions{
				BaseURL:   strings.TrimRight(c.String("server"), "/"),
				ProjectID: c.String("project"),
				Token:     c.String("token"),
				Notify:    printer.print,
			})

			fmt.Fprintf(c.App.Writer, "watching %s on %s (ctrl-c to stop)\n", c.String("project"), c.String("server"))
			if err := rt.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "mode: %s, sessions seen: %d\n", rt.Mode(), rt.Model().Seen())

			if c.Bool("log") {
				printLog(c.App.Writer, rt.Model().Log())
			}
			return nil
		},
	}
}

// notificationPrinter serialises writes from the push and poll goroutines.
type notificationPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *notificationPrinter) print(n reconcile.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("%s  new visitor  %s", n.NotifiedAt.Format(time.TimeOnly), n.SessionID)
	if n.Page != "" {
		line += "  on " + n.Page
	}
	if where := location(n.Visitor.City, n.Visitor.Country); where != "" {
		line += "  from " + where
	}
	if n.Visitor.Browser != "" {
		line += "  (" + n.Visitor.Browser + ")"
	}
	fmt.Fprintf(p.out, "%s  [%s]\n", line, n.Source)
}

func location(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case country != "":
		return country
	default:
		return city
	}
}

func printLog(w io.Writer, entries []reconcile.LogEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-5s  %-10s  %s\n", e.At.Format(time.TimeOnly), e.Source, e.Outcome, e.SessionID)
	}
}

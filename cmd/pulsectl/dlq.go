// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tomtom215/visitorpulse/internal/queue"
)

var errDLQBackend = errors.New("dead letters are only kept locally by the badger queue; use the jetstream or kafka DLQ tooling instead")

// withBadgerQueue opens the on-disk queue. Badger holds a directory lock,
// so this fails while the server is running.
func withBadgerQueue(c *cli.Context, fn func(*queue.BadgerQueue) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Queue.Backend != "badger" {
		return errDLQBackend
	}
	q, err := queue.OpenBadger(cfg.Queue)
	if err != nil {
		return fmt.Errorf("open queue (is the server still running?): %w", err)
	}
	defer q.Close()
	return fn(q)
}

func dlqCmd() *cli.Command {
	return &cli.Command{
		Name:  "dlq",
		Usage: "Inspect and replay dead-lettered events",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show queue depth",
				Action: func(c *cli.Context) error {
					return withBadgerQueue(c, func(q *queue.BadgerQueue) error {
						st, err := q.Stats()
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "pending: %d\nleased:  %d\ndead:    %d\n", st.Pending, st.Leased, st.Dead)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List dead letters, oldest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum entries to show"},
				},
				Action: func(c *cli.Context) error {
					return withBadgerQueue(c, func(q *queue.BadgerQueue) error {
						dead, err := q.DeadLetters(c.Context, c.Int("limit"))
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tPROJECT\tTYPE\tATTEMPTS\tFAILED\tERROR")
						for _, d := range dead {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
								d.Message.ID, d.Message.ProjectID, d.Message.Type, d.Attempts,
								d.FailedAt.Format(time.RFC3339), d.LastError)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "requeue",
				Usage:     "Move a dead letter back to the pending queue",
				ArgsUsage: "<event-id>",
				Action:    dlqAction("requeued", (*queue.BadgerQueue).Requeue),
			},
			{
				Name:      "discard",
				Usage:     "Delete a dead letter",
				ArgsUsage: "<event-id>",
				Action:    dlqAction("discarded", (*queue.BadgerQueue).Discard),
			},
		},
	}
}

func dlqAction(verb string, op func(*queue.BadgerQueue, context.Context, string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("event id is required")
		}
		return withBadgerQueue(c, func(q *queue.BadgerQueue) error {
			if err := op(q, c.Context, id); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s %s\n", id, verb)
			return nil
		})
	}
}

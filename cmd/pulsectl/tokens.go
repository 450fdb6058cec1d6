// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tomtom215/visitorpulse/internal/auth"
)

// withManager opens the configured token store for the duration of fn.
// The badger store takes a directory lock, so the server must be stopped.
func withManager(c *cli.Context, fn func(*auth.Manager) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := auth.OpenStore(c.Context, cfg.Auth)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer store.Close()
	return fn(auth.NewManager(store, cfg.Auth.BcryptCost))
}

func projectCmd() *cli.Command {
	idFlag := &cli.StringFlag{Name: "id", Usage: "Project id", Required: true}
	return &cli.Command{
		Name:  "project",
		Usage: "Manage projects",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a project (no-op if it exists)",
				Flags: []cli.Flag{idFlag, &cli.StringFlag{Name: "name", Usage: "Display name"}},
				Action: func(c *cli.Context) error {
					return withManager(c, func(m *auth.Manager) error {
						p, err := m.EnsureProject(c.Context, c.String("id"), c.String("name"))
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "project %s (%s) ready\n", p.ID, p.Name)
						return nil
					})
				},
			},
			{
				Name:   "disable",
				Usage:  "Reject further events for a project",
				Flags:  []cli.Flag{idFlag},
				Action: setDisabled(true),
			},
			{
				Name:   "enable",
				Usage:  "Accept events for a disabled project again",
				Flags:  []cli.Flag{idFlag},
				Action: setDisabled(false),
			},
		},
	}
}

func setDisabled(disabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		return withManager(c, func(m *auth.Manager) error {
			if err := m.SetProjectDisabled(c.Context, c.String("id"), disabled); err != nil {
				return err
			}
			state := "enabled"
			if disabled {
				state = "disabled"
			}
			fmt.Fprintf(c.App.Writer, "project %s %s\n", c.String("id"), state)
			return nil
		})
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage project tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Mint a token; the plaintext is printed once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Usage: "Project id", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Label, e.g. the site it is embedded in"},
					&cli.DurationFlag{Name: "expires", Usage: "Lifetime (0 for none)"},
				},
				Action: func(c *cli.Context) error {
					return withManager(c, func(m *auth.Manager) error {
						resp, err := m.CreateToken(c.Context, auth.CreateTokenRequest{
							ProjectID: c.String("project"),
							Name:      c.String("name"),
							ExpiresIn: c.Duration("expires"),
						})
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "id:    %s\n", resp.Token.ID)
						fmt.Fprintf(c.App.Writer, "token: %s\n", resp.Plaintext)
						if resp.Token.ExpiresAt != nil {
							fmt.Fprintf(c.App.Writer, "expires: %s\n", resp.Token.ExpiresAt.Format(time.RFC3339))
						}
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List a project's tokens",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Usage: "Project id", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withManager(c, func(m *auth.Manager) error {
						tokens, err := m.ListTokens(c.Context, c.String("project"))
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tSTATE")
						for i := range tokens {
							t := &tokens[i]
							fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
								t.ID, t.Name, t.TokenPrefix, t.CreatedAt.Format(time.RFC3339), tokenState(t.IsRevoked(), t.IsExpired()))
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a token by id",
				ArgsUsage: "<token-id>",
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if id == "" {
						return errors.New("token id is required")
					}
					return withManager(c, func(m *auth.Manager) error {
						if err := m.RevokeToken(c.Context, id); err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "token %s revoked\n", id)
						return nil
					})
				},
			},
		},
	}
}

func tokenState(revoked, expired bool) string {
	switch {
	case revoked:
		return "revoked"
	case expired:
		return "expired"
	default:
		return "active"
	}
}

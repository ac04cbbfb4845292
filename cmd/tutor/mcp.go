package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/audit"
	"github.com/pario-ai/tutor/pkg/budget"
	cachepkg "github.com/pario-ai/tutor/pkg/cache/sqlite"
	"github.com/pario-ai/tutor/pkg/mcp"
	"github.com/pario-ai/tutor/pkg/store"
)

func newMCPCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only operator tools over stdio (Model Context Protocol)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Storage, cfg.Session.Timeout, cfg.Pricing.PricePer1K)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer func() { _ = st.Close() }()

			var opts []mcp.Option
			if cfg.Budget.Enabled {
				opts = append(opts, mcp.WithBudget(budget.New(cfg.Budget.Policies, st.Ledger)))
			}
			if cfg.Cache.Enabled {
				c, err := cachepkg.New(cfg.Cache.Path, cfg.Cache.TTL)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = c.Close() }()
				opts = append(opts, mcp.WithCache(c))
			}
			if cfg.Audit.Enabled {
				al, err := audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = al.Close() }()
				opts = append(opts, mcp.WithAudit(al))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(st.Ledger, st.Registry, cfg.Session.Timeout, version, opts...)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

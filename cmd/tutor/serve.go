package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/audit"
	"github.com/pario-ai/tutor/pkg/budget"
	cachepkg "github.com/pario-ai/tutor/pkg/cache/sqlite"
	"github.com/pario-ai/tutor/pkg/credentials"
	"github.com/pario-ai/tutor/pkg/llm"
	"github.com/pario-ai/tutor/pkg/server"
	"github.com/pario-ai/tutor/pkg/store"
	"github.com/pario-ai/tutor/pkg/tutor"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the tutor HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			creds, err := credentials.Load(cfg.CredentialsPath)
			if err != nil {
				return err
			}
			slog.Info("credentials loaded", "accounts", creds.Len())

			st, err := store.Open(cfg.Storage, cfg.Session.Timeout, cfg.Pricing.PricePer1K)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer func() { _ = st.Close() }()

			model, err := llm.New(ctx, cfg.Model)
			if err != nil {
				return fmt.Errorf("init model: %w", err)
			}

			var opts []tutor.Option
			if cfg.Cache.Enabled {
				cache, err := cachepkg.New(cfg.Cache.Path, cfg.Cache.TTL)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = cache.Close() }()
				opts = append(opts, tutor.WithCache(cache))
			}
			if cfg.Budget.Enabled {
				opts = append(opts, tutor.WithBudget(budget.New(cfg.Budget.Policies, st.Ledger)))
			}
			if cfg.Audit.Enabled {
				al, err := audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = al.Close() }()
				opts = append(opts, tutor.WithAudit(al))
			}

			ctrl := tutor.New(cfg, creds, st.Registry, st.Ledger, model, llm.NewTokenizer(model.Name()), opts...)
			srv := server.New(cfg, ctrl)

			slog.Info("starting tutor", "storage", st.Driver, "ledger_key", cfg.Ledger.KeyBy,
				"session_timeout", cfg.Session.Timeout)
			return srv.ListenAndServe(ctx)
		},
	}
}

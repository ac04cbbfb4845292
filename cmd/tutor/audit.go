package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/audit"
	"github.com/pario-ai/tutor/pkg/models"
)

func newAuditCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the model call audit log",
	}

	open := func(cmd *cobra.Command) (*audit.Logger, func(), error) {
		cfg, err := load(cmd)
		if err != nil {
			return nil, nil, err
		}
		l, err := audit.New(cfg.Audit)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit db: %w", err)
		}
		return l, func() { _ = l.Close() }, nil
	}

	cmd.AddCommand(
		newAuditSearchCmd(open),
		newAuditShowCmd(open),
		newAuditStatsCmd(open),
		newAuditCleanupCmd(open),
	)
	return cmd
}

type auditOpener func(cmd *cobra.Command) (*audit.Logger, func(), error)

func newAuditSearchCmd(open auditOpener) *cobra.Command {
	var (
		user  string
		key   string
		kind  string
		since string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.AuditQueryOpts{
				Username: user,
				Key:      key,
				Kind:     models.CallKind(kind),
				Limit:    limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			l, cleanup, err := open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "filter by username")
	cmd.Flags().StringVar(&key, "key", "", "filter by ledger key")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by call kind (summary, chat)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd(open auditOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a single audit entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: args[0],
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Request ID:    %s\n", e.RequestID)
			fmt.Printf("User:          %s (key %s)\n", e.Username, e.Key)
			fmt.Printf("Kind:          %s\n", e.Kind)
			fmt.Printf("Model:         %s/%s\n", e.Provider, e.Model)
			fmt.Printf("Status:        %s\n", e.Status)
			fmt.Printf("Latency:       %dms\n", e.LatencyMs)
			fmt.Printf("Tokens:        %d prompt / %d completion / %d total\n",
				e.PromptTokens, e.CompletionTokens, e.TotalTokens)
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if e.Error != "" {
				fmt.Printf("Error:         %s\n", e.Error)
			}
			return nil
		},
	}
}

func newAuditStatsCmd(open auditOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show model call counts by kind and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(open auditOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := open(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-12s %-8s %-16s %-6s %8s %8s %-19s\n",
		"REQUEST ID", "USER", "KIND", "KEY", "STATUS", "LATENCY", "TOKENS", "TIME")
	b.WriteString(strings.Repeat("-", 122) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-36s %-12s %-8s %-16s %-6s %6dms %8d %-19s\n",
			e.RequestID, e.Username, e.Kind, e.Key, e.Status,
			e.LatencyMs, e.TotalTokens,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-12s %8s %8s %12s\n", "KIND", "DAY", "CALLS", "ERRORS", "TOKENS")
	b.WriteString(strings.Repeat("-", 54) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-10s %-12s %8d %8d %12d\n", s.Kind, s.Day, s.Count, s.Errors, s.Tokens)
	}
	return b.String()
}

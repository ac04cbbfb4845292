package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/budget"
	"github.com/pario-ai/tutor/pkg/store"
)

func newBudgetCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect token budgets",
	}

	var key string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			st, err := store.Open(cfg.Storage, cfg.Session.Timeout, cfg.Pricing.PricePer1K)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := context.Background()
			keys := []string{key}
			if key == "" {
				keys, err = st.Ledger.ListKeys(ctx)
				if err != nil {
					return err
				}
			}

			enforcer := budget.New(cfg.Budget.Policies, st.Ledger)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tPOLICY\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			rows := 0
			for _, k := range keys {
				statuses, err := enforcer.Status(ctx, k, time.Now())
				if err != nil {
					return err
				}
				for _, s := range statuses {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
						k, s.Policy.Key, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining)
					rows++
				}
			}
			if rows == 0 {
				fmt.Println("No budget policies apply.")
				return nil
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&key, "key", "", "ledger key (default: every recorded key)")

	cmd.AddCommand(statusCmd)
	return cmd
}

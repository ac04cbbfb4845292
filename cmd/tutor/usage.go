package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/models"
	"github.com/pario-ai/tutor/pkg/store"
)

func newUsageCmd(load configLoader) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show accumulated token usage and cost per ledger key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Storage, cfg.Session.Timeout, cfg.Pricing.PricePer1K)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := context.Background()
			var records []models.UsageRecord
			if key != "" {
				rec, err := st.Ledger.Read(ctx, key)
				if err != nil {
					return err
				}
				records = []models.UsageRecord{rec}
			} else {
				records, err = st.Ledger.List(ctx)
				if err != nil {
					return err
				}
			}
			return writeUsageTable(os.Stdout, records)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "show a single ledger key")
	return cmd
}

func writeUsageTable(out io.Writer, records []models.UsageRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPROMPT\tCOMPLETION\tTOTAL\tCOST")
	var total int64
	var cost float64
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n",
			r.Key, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.Cost)
		total += r.TotalTokens
		cost += r.Cost
	}
	if len(records) > 1 {
		fmt.Fprintf(w, "TOTAL\t\t\t%d\t$%.4f\n", total, cost)
	}
	return w.Flush()
}

package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/mathfmt"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Normalize math markup read from stdin to $ / $$ delimiters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), mathfmt.Normalize(string(in)))
			return err
		},
	}
}

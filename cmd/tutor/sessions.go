package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tutor/pkg/config"
	"github.com/pario-ai/tutor/pkg/credentials"
	"github.com/pario-ai/tutor/pkg/models"
	"github.com/pario-ai/tutor/pkg/store"
)

func newSessionsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage active sessions",
	}

	open := func(cmd *cobra.Command) (*config.Config, *store.Store, error) {
		cfg, err := load(cmd)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.Open(cfg.Storage, cfg.Session.Timeout, cfg.Pricing.PricePer1K)
		if err != nil {
			return nil, nil, err
		}
		return cfg, st, nil
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, expired or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			records, err := st.Registry.List(context.Background())
			if err != nil {
				return err
			}

			var dir accountDirectory
			if creds, err := credentials.Load(cfg.CredentialsPath); err != nil {
				if all {
					return err
				}
				slog.Warn("listing without institutions", "error", err)
			} else {
				dir = creds
			}
			return writeSessionsTable(os.Stdout, sessionRows(records, dir, all), cfg.Session.Timeout, time.Now())
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "also list accounts without a stored session")

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := context.Background()
			before, err := st.Registry.List(ctx)
			if err != nil {
				return err
			}
			after, err := st.Registry.CleanExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired sessions, %d active.\n", len(before)-len(after), len(after))
			return nil
		},
	}

	kickCmd := &cobra.Command{
		Use:   "kick <username>",
		Short: "End the session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Registry.Logout(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Session of %s ended.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, cleanCmd, kickCmd)
	return cmd
}

// accountDirectory resolves usernames to accounts.
type accountDirectory interface {
	Lookup(username string) (models.User, bool)
	Usernames() []string
}

type sessionRow struct {
	username    string
	institution string
	lastSeen    time.Time
	stored      bool
}

// sessionRows joins stored records with the account file. With all set,
// accounts that never logged in follow the stored sessions. Records for
// usernames missing from dir show "?" as institution.
func sessionRows(records []models.SessionRecord, dir accountDirectory, all bool) []sessionRow {
	institution := func(username string) string {
		if dir == nil {
			return "-"
		}
		if u, ok := dir.Lookup(username); ok {
			return u.Institution
		}
		return "?"
	}

	rows := make([]sessionRow, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.Username] = true
		rows = append(rows, sessionRow{
			username:    r.Username,
			institution: institution(r.Username),
			lastSeen:    r.LastSeen,
			stored:      true,
		})
	}
	if all && dir != nil {
		for _, name := range dir.Usernames() {
			if !seen[name] {
				rows = append(rows, sessionRow{username: name, institution: institution(name)})
			}
		}
	}
	return rows
}

func writeSessionsTable(out io.Writer, rows []sessionRow, timeout time.Duration, now time.Time) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tINSTITUTION\tLAST SEEN\tIDLE\tSTATE")
	for _, r := range rows {
		if !r.stored {
			fmt.Fprintf(w, "%s\t%s\t-\t-\tnone\n", r.username, r.institution)
			continue
		}
		idle := now.Sub(r.lastSeen).Truncate(time.Second)
		state := "active"
		if idle > timeout {
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.username, r.institution, r.lastSeen.Format("2006-01-02 15:04:05"), idle, state)
	}
	return w.Flush()
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/sqlite"
)

// NewChangesCommand creates the changes command: list recent changelog
// entries, newest first.
func NewChangesCommand(root *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List recent changelog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqlite.Open(root.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := changelog.Recent(cmd.Context(), db, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				merged := " "
				if e.Merged {
					merged = "*"
				}
				fields := make([]string, len(e.Fields))
				for i, f := range e.Fields {
					fields[i] = f.Name
				}
				fmt.Fprintf(out, "%s %s %s/%s author=%s fields=%v\n",
					merged, e.ID, e.EntityType, e.EntityID, e.AuthorID, fields)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no changes recorded")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to list")
	return cmd
}

package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/changelog"
	"github.com/roach88/ripple/internal/sqlite"
)

// NewStatusCommand creates the status command: replica identity and
// changelog counters.
func NewStatusCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show replica identity and changelog counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqlite.Open(root.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			replicaID, err := db.ReplicaID()
			if err != nil {
				return err
			}
			total, unmerged, err := changelog.Counts(cmd.Context(), db)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "database:  %s", root.Database)
			if info, err := os.Stat(root.Database); err == nil {
				fmt.Fprintf(out, " (%s)", humanize.Bytes(uint64(info.Size())))
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "replica:   %s\n", replicaID)
			fmt.Fprintf(out, "changes:   %d total, %d unmerged\n", total, unmerged)
			return nil
		},
	}
}

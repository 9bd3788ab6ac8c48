// Package cli implements the ripple command line: one-shot sync cycles and
// local changelog inspection.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Database string
	Verbose  bool
}

// NewRootCommand creates the root command for the ripple CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ripple",
		Short: "Local-first reactive store with object-storage sync",
		Long: "ripple embeds a SQLite database, tracks every write in a changelog,\n" +
			"and converges replicas through shared object storage.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "ripple.db", "path to the database file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))

	return cmd
}

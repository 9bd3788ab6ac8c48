package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ripple"
)

// NewSyncCommand creates the sync command: one pull-then-push cycle.
func NewSyncCommand(root *RootOptions) *cobra.Command {
	var (
		configPath string
		url        string
		passphrase string
		batched    bool
		batchCap   int64
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against a remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSyncConfig(configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("url") && cfg.URL != "" {
				url = cfg.URL
			}
			if !cmd.Flags().Changed("passphrase") && cfg.Passphrase != "" {
				passphrase = cfg.Passphrase
			}
			if !cmd.Flags().Changed("batched") && cfg.Batched != nil {
				batched = *cfg.Batched
			}
			if !cmd.Flags().Changed("batch-cap") && cfg.BatchCap != 0 {
				batchCap = cfg.BatchCap
			}
			if url == "" {
				return fmt.Errorf("a storage url is required (--url or config file)")
			}

			db, err := ripple.Open(root.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			sync, err := ripple.NewSyncBuilder().
				URL(url).
				Passphrase(passphrase).
				Batched(batched).
				BatchCap(batchCap).
				Build()
			if err != nil {
				return err
			}

			if err := sync.Sync(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file with sync options")
	cmd.Flags().StringVar(&url, "url", "", "storage url (s3://…, file://…, memory://…)")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "encrypt remote objects with this passphrase")
	cmd.Flags().BoolVar(&batched, "batched", true, "use the batched remote format")
	cmd.Flags().Int64Var(&batchCap, "batch-cap", 0, "batch size ceiling in bytes (0 = default)")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/charcoal/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate --database-url <url>",
		Short: "Migrate all data to a different storage backend",
		Long: `migrate copies every fingerprint, embedding, account score, amplification
event, and scan cursor from the currently configured storage backend to the
backend addressed by --database-url, through the public Store interface
only. The source backend is left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbURL, _ := cmd.Flags().GetString("database-url")
			if dbURL == "" {
				return fmt.Errorf("--database-url is required")
			}

			cfg, err := loadAndValidate()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client := newClient(cfg)
			did, err := resolveProtectedDID(ctx, client, cfg)
			if err != nil {
				return fmt.Errorf("resolving protected handle: %w", err)
			}

			src, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening source storage backend: %w", err)
			}
			defer src.Close()

			dst, err := openStoreForURL(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("opening destination storage backend: %w", err)
			}
			defer dst.Close()

			if err := store.Migrate(ctx, src, dst, did); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("migrated data for %s to %s\n", did, dbURL)
			return nil
		},
	}
	cmd.Flags().String("database-url", "", "destination database URL (postgres://... or sqlite://path)")
	return cmd
}

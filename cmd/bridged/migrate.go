package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.cleanup()

		if err := a.store.Migrate(cmd.Context()); err != nil {
			return err
		}
		a.logger.Info("schema up to date", "driver", a.cfg.StoreDriver)
		return nil
	},
}

package cmd

import (
	"fmt"

	"github.com/jmehdipour/sms-forwarder/internal/app"
	"github.com/jmehdipour/sms-forwarder/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Setup(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		// OpenStore migrates up before returning
		store, err := db.OpenStore(cfg.Store)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer store.Close()

		log.Info("migration complete", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

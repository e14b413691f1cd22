package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/sms-forwarder/internal/app"
	"github.com/jmehdipour/sms-forwarder/internal/db"
	"github.com/jmehdipour/sms-forwarder/internal/repository"
	"github.com/jmehdipour/sms-forwarder/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed filter rules and targets (demo set, or --file YAML)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Setup(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		data := seed.Demo()
		if seedFile != "" {
			f, err := os.Open(seedFile)
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			data, err = seed.Parse(f)
			_ = f.Close()
			if err != nil {
				return err
			}
		}

		store, err := db.OpenStore(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := seed.Apply(cmd.Context(),
			repository.NewRulesRepository(store),
			repository.NewTargetsRepository(store),
			data, cfg.Forward.DefaultCountryCode)
		if err != nil {
			return err
		}

		log.Info("seed completed",
			zap.Int("rules_inserted", res.RulesInserted),
			zap.Int("rules_skipped", res.RulesSkipped),
			zap.Int("targets", res.Targets),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML file with rules and targets")
}

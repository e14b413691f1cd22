package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/sms-forwarder/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver queued forwards through the transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, log, err := app.Setup(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		// graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// one dispatcher per store: anything still dispatching was orphaned
		if err := a.RecoverAll(ctx); err != nil {
			return fmt.Errorf("recover jobs: %w", err)
		}
		sched, err := a.Maintenance()
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		d := a.Dispatcher()
		log.Info("dispatcher started",
			zap.Int("workers", d.Workers),
			zap.Int("claim_batch", d.ClaimBatch),
			zap.Duration("poll_interval", d.PollInterval),
			zap.Duration("send_timeout", d.SendTimeout),
		)
		return d.Run(ctx)
	},
}

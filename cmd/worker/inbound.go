package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/sms-forwarder/internal/app"
	"github.com/jmehdipour/sms-forwarder/internal/kafka"
	"github.com/jmehdipour/sms-forwarder/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Consume received SMS events from Kafka into the forward pipeline",
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

		consumer, err := kafka.NewConsumer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer consumer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("inbound consumer started",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
			zap.String("group", cfg.Kafka.GroupID),
		)
		return worker.NewInboundConsumer(consumer, a.Pipeline, log.Named("inbound")).Run(ctx)
	},
}

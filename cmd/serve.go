package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveNoDispatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP API with the embedded dispatch worker and maintenance",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var wg sync.WaitGroup
		if !serveNoDispatch {
			// nothing is dispatching yet, so every dispatching row is orphaned
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
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := d.Run(ctx); err != nil {
					log.Error("dispatcher stopped", zap.Error(err))
				}
			}()
		}

		server := a.HTTPServer()
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
			stop()
		}

		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shCtx)

		wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoDispatch, "no-dispatch", false, "serve the API only; run `worker dispatch` separately")
}

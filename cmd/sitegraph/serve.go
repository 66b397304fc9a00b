package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sitegraph/internal/api"
)

// serveCmd runs the control plane and the exploration workers in one process.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control plane with embedded workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		s, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		api.NewHandler(s.store, s.queue, s.orch, logger).Register(e)

		workerErr := make(chan error, 1)
		go func() {
			workerErr <- s.orch.Run(ctx)
		}()

		serverErr := make(chan error, 1)
		go func() {
			logger.Info("control plane listening", zap.String("addr", cfg.Server.ListenAddr))
			serverErr <- e.Start(cfg.Server.ListenAddr)
		}()

		workerDone := false
		select {
		case <-ctx.Done():
		case err := <-workerErr:
			workerDone = true
			if err != nil {
				logger.Error("worker pool failed", zap.Error(err))
			}
			cancel()
		case err := <-serverErr:
			if err != nil && err != http.ErrServerClosed {
				logger.Error("http server failed", zap.Error(err))
			}
			cancel()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if !workerDone {
			<-workerErr
		}
		logger.Info("shutdown complete")
		return nil
	},
}

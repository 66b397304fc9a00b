package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd attaches a standalone worker pool to a shared Redis queue.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run exploration workers against a Redis-backed queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Queue.Backend != "redis" {
			return fmt.Errorf("worker mode requires the redis queue backend (got %q)", cfg.Queue.Backend)
		}

		ctx, cancel := signalContext()
		defer cancel()

		s, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		logger.Info("worker pool started",
			zap.Int("workers", cfg.Explore.Workers),
			zap.String("redis", cfg.Queue.RedisAddr))
		if err := s.orch.Run(ctx); err != nil {
			return err
		}
		logger.Info("worker pool stopped")
		return nil
	},
}

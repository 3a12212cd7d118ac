package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ext2pager/internal/workerpool"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newServeCmd starts the daemon against a configured device, grounded on
// operator-framework-operator-registry's cmd/opm/serve: signal-driven
// graceful shutdown via an errgroup-backed worker pool rather than a
// fixed goroutine pair, since this daemon services an open-ended stream
// of paging requests instead of one gRPC listener.
func newServeCmd(mainConfigFile, fallbackConfigFile, logLevel *string) *cobra.Command {
	var (
		minWorkers int
		maxWorkers int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the pager daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logrus.NewEntry(logrus.StandardLogger())
			cfg, err := loadConfig(*mainConfigFile, *fallbackConfigFile, *logLevel)
			if err != nil {
				return err
			}

			reg, dev, err := buildRegistry(cfg, log)
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			pool := workerpool.New(ctx, minWorkers, maxWorkers, 5*time.Minute)

			ticker := time.NewTicker(statsLogInterval)
			defer ticker.Stop()

			log.WithFields(logrus.Fields{
				"device":     cfg.DevicePath,
				"block_size": cfg.BlockSize,
				"page_size":  cfg.PageSize,
			}).Info("serving")

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-ticker.C:
					pool.Submit(func(ctx context.Context) error {
						log.WithFields(logrus.Fields{
							"pager_users":         reg.PagerUsers(),
							"max_user_pager_prot": reg.MaxUserPagerProt(),
							"bucket_count":        reg.BucketCount(),
							"workers":             pool.Active(),
						}).Info("pager stats")
						return nil
					})
				}
			}

			log.Info("shutting down")
			if err := pool.Stop(); err != nil {
				log.WithError(err).Warn("worker pool stopped with error")
			}
			return reg.Shutdown(0, int64(cfg.BlockSize))
		},
	}

	cmd.Flags().IntVar(&minWorkers, "min-workers", 2, "minimum paging worker goroutines")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 16, "maximum paging worker goroutines")
	return cmd
}

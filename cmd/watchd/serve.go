package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kavymi/meepo-sub001/internal/logging"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			loggingOptions := cfg.LoggingOptions()
			loggingOptions.Output = opts.stderr
			logger := logging.New(loggingOptions)
			if cfg.Path != "" {
				logger.Info("config loaded", map[string]string{"path": cfg.Path})
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			signals := make(chan os.Signal, 2)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)
			stopWatching := watchShutdownSignals(logger, cancel, signals)
			defer stopWatching()

			d, err := newDaemon(ctx, cfg, logger)
			if err != nil {
				return err
			}
			listener, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				_ = d.shutdown.Run(context.Background())
				return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
			}
			return d.Run(ctx, listener)
		},
	}
}

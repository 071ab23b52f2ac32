package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altfoxie/bing-client/internal/logging"
	"github.com/altfoxie/bing-client/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr     string
		logLevel string
		delay    time.Duration
	)

	cmd := &cobra.Command{
		Use:           "stub-server",
		Short:         "Run a local stand-in for the Bing chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logCfg := logging.DefaultConfig()
			logCfg.Level = logLevel
			logger, closeLog, err := logging.New(logCfg)
			if err != nil {
				return err
			}
			defer closeLog()

			srv := server.New(addr, server.WithLogger(logger), server.WithUpdateDelay(delay))

			// Handle graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Start()
			}()

			select {
			case <-srv.Ready():
				logger.Info("endpoints",
					zap.String("create", srv.CreateURL()),
					zap.String("chathub", srv.ChatHubURL()))
			case err := <-errChan:
				return err
			}

			// Wait for either error or shutdown signal
			select {
			case err := <-errChan:
				return err
			case sig := <-sigChan:
				logger.Info("shutting down", zap.Stringer("signal", sig))
				srv.Stop()
			}
			return <-errChan
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "address to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&delay, "update-delay", 50*time.Millisecond, "pause between streamed updates")
	return cmd
}

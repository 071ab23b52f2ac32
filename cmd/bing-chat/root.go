package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/altfoxie/bing-client/internal/chat"
	"github.com/altfoxie/bing-client/internal/config"
	"github.com/altfoxie/bing-client/internal/logging"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type app struct {
	configPath string
	v          *viper.Viper
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "bing-chat",
		Short:         "Chat with Bing from the terminal",
		Long:          "bing-chat creates a conversation with the Bing chat service and streams its answers to the terminal. Type a message per line; 'quit' exits.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.Flags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.String("cookie", "", "the _U cookie, or a full cookie header containing it")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	_ = a.v.BindPFlag("cookie", flags.Lookup("cookie"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	return cmd
}

func (a *app) run(ctx context.Context) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Err(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logCfg.File = cfg.Log.File
	logCfg.Output = a.stderr
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, logger)
		defer srv.Close()
	}

	conv, err := chat.NewConversation(ctx, cfg.Chat(logger), cfg.Cookie)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	logger.Info("conversation created", zap.String("conversation_id", conv.ID()))

	return newSession(conv, a.stdin, a.stdout).loop(ctx)
}

func metricsHandler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/go-orz/guacgateway/internal/config"
	"github.com/go-orz/guacgateway/internal/gateway"
	"github.com/go-orz/guacgateway/internal/guacd"
	"github.com/go-orz/guacgateway/internal/metrics"
	"github.com/go-orz/guacgateway/internal/session"
	"github.com/go-orz/guacgateway/internal/token"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "guacgatewayd",
		Short: "Terminates browser WebSocket connections and relays them to guacd over the Guacamole wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the gateway's YAML config file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("guacgatewayd: %w", err)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Pretty)

	key, err := hex.DecodeString(cfg.Token.KeyHex)
	if err != nil {
		return fmt.Errorf("guacgatewayd: token.key_hex: %w", err)
	}
	crypto, err := token.New(key, token.Cipher(cfg.Token.Cipher))
	if err != nil {
		return fmt.Errorf("guacgatewayd: %w", err)
	}

	reg := metrics.New()

	gw := gateway.New(gateway.Config{}, session.Options{
		Crypto: crypto,
		GuacdOptions: guacd.Options{
			Host:           cfg.Guacd.Host,
			Port:           cfg.Guacd.Port,
			ConnectTimeout: cfg.Guacd.ConnectTimeout,
		},
		HandshakeTimeout:  cfg.Session.HandshakeTimeout,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		RecordingDir:      cfg.Session.RecordingDir,
		Metrics:           reg,
		Logger:            logger,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/", gw)

	srv := &http.Server{Addr: cfg.Listen.Addr, Handler: mux}
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: reg.Handler()}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.Listen.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

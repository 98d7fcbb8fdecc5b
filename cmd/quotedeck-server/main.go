// Command quotedeck-server runs the market data gateway: REST endpoints for
// bars and quotes plus a WebSocket fan-out over a configurable upstream
// source.
//
// Usage:
//
//	quotedeck-server [-config path]
//
// Configuration is read from config/quotedeck.yaml (override with -config or
// QUOTEDECK_CONFIG). A .env file in the working directory is loaded when
// present, so Alpaca credentials can stay out of the shell profile.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quotedeck/internal/config"
	"quotedeck/internal/feed"
	"quotedeck/internal/gateway"
	"quotedeck/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/quotedeck.yaml"
	if p := os.Getenv("QUOTEDECK_CONFIG"); p != "" {
		cfgPath = p
	}
	if *cfgFlag != "" {
		cfgPath = *cfgFlag
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	src, err := buildSource(cfg)
	if err != nil {
		log.Fatalf("failed to build source: %v", err)
	}

	gw := gateway.NewServer(src, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: gw.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("quotedeck-server listening",
			"addr", cfg.Server.Addr(),
			"source", sourceName(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	gw.Close()
}

func buildLogger(cfg *config.Config) *slog.Logger {
	if cfg.Logging.File != "" {
		return util.NewFileLogger(cfg.Logging.Level, util.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		})
	}
	return util.NewLogger(cfg.Logging.Level)
}

func sourceName(cfg *config.Config) string {
	if cfg.Source == "" {
		return "sim"
	}
	return cfg.Source
}

func buildSource(cfg *config.Config) (feed.Source, error) {
	switch cfg.Source {
	case "", "sim":
		return feed.NewSim(), nil
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("source alpaca requires APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
		return feed.NewAlpaca(feed.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
		}), nil
	case "remote":
		return feed.NewRemote(feed.RemoteOptions{
			BaseURL: cfg.Remote.BaseURL,
			Feed:    cfg.Alpaca.Feed,
		})
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// codeloom - AI chat gateway daemon.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codeloom/codeloom/internal/chat"
	"github.com/codeloom/codeloom/internal/config"
	"github.com/codeloom/codeloom/internal/server"
	"github.com/codeloom/codeloom/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	// Stored API keys are encrypted at rest only when a passphrase is set.
	var cipher *store.Cipher
	if passphrase := os.Getenv(cfg.Providers.PassphraseEnv); passphrase != "" {
		cipher, err = store.NewCipher(passphrase)
		if err != nil {
			return fmt.Errorf("init cipher: %w", err)
		}
	} else {
		logger.Warn("KEY_ENCRYPTION_DISABLED",
			"env", cfg.Providers.PassphraseEnv,
			"detail", "stored API keys will not be encrypted at rest")
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	st, err := store.Open(dbPath, cipher)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc := chat.NewService(cfg, st)
	srv := server.NewServer(cfg.ListenAddr(), svc, logger, cfg.Server.RateLimitPerMinute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config edits take effect on the next turn without a restart.
	if configPath, err := config.ConfigPath(); err == nil {
		go func() {
			err := config.Watch(ctx, configPath, func(updated *config.Config) {
				svc.UpdateConfig(updated)
				logger.Info("CONFIG_RELOADED", "path", configPath)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("CONFIG_WATCH_FAILED", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("SERVER_STOPPING", "grace", cfg.ShutdownGrace().String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newLogger builds a structured logger that writes to a rotating file and
// mirrors events to stderr.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	logPath, err := cfg.LogFilePath()
	if err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}

	handler := slog.NewJSONHandler(io.MultiWriter(rotator, os.Stderr), &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, func() { rotator.Close() }, nil
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

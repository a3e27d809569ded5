// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repochat/internal/bootstrap"
	"github.com/kraklabs/repochat/internal/errors"
	"github.com/kraklabs/repochat/internal/server"
	"github.com/kraklabs/repochat/internal/ui"
)

// runServe executes the 'serve' CLI command, running the HTTP API server.
// It wires the store, embedder, and LLM clients, checks the vector store,
// and serves until interrupted.
func runServe(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repochat serve [options]

Description:
  Run the repochat HTTP API server. Endpoints:
    POST /api/repos     Submit a repository for indexing
    GET  /api/repos     List indexed namespaces
    POST /api/ask       Ask a question (streams plain text)
    GET  /healthz       Liveness check
    GET  /metrics       Prometheus metrics

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  repochat serve
  repochat serve --addr :9000
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load repochat configuration",
			err.Error(),
			"Run 'repochat init' or fix .repochat/config.yaml",
			err,
		), globals.JSON)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := newLogger(globals)
	slog.SetDefault(logger)

	setProviderEnv(cfg)
	app, err := bootstrap.NewApp(appConfig(cfg), logger)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot initialize repochat",
			err.Error(),
			"Check the provider settings in .repochat/config.yaml",
			err,
		), globals.JSON)
	}

	ui.Header("Starting repochat server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.CheckStore(ctx); err != nil {
		ui.Warning(fmt.Sprintf("Vector store check failed: %v", err))
		ui.Info("Continuing anyway; requests will fail until the store is reachable")
	} else {
		ui.Success("Vector store is reachable")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(app.Store, app.Pipeline, app.Engine, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown.error", "err", err)
		}
		cancel()
	}()

	ui.Success(fmt.Sprintf("Listening on %s", cfg.Server.Addr))
	logger.Info("server.start", "addr", cfg.Server.Addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errors.FatalError(errors.NewNetworkError(
			"HTTP server failed",
			err.Error(),
			"Check that the address is free and you may bind to it",
			err,
		), globals.JSON)
	}

	logger.Info("server.stopped")
}

// newLogger builds the process logger from the global flags.
func newLogger(globals GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	if globals.Verbose > 0 {
		level = slog.LevelDebug
	}
	if globals.Quiet {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

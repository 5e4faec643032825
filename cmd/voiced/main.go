// voiced is the live voice-to-structured-utterance gateway daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/config"
	gatewayserver "github.com/Edwinswanith/Multiaudio/pkg/gateway/server"
)

type daemonDeps struct {
	loadConfig   func(path string) (*config.Config, error)
	openStore    func(cfg config.Config) (store.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		loadConfig: config.Load,
		openStore:  openStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.Storage.Path == "" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(cfg.Storage.Path)
}

func buildLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func runDaemon(ctx context.Context, configPath string, stderr io.Writer, deps daemonDeps) error {
	loaded, err := deps.loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := *loaded

	logger := buildLogger(cfg, stderr)
	slog.SetDefault(logger)

	st, err := deps.openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{Store: st})
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: gw.Handler(),
	}

	logger.Info("starting voiced",
		"addr", cfg.Server.Addr,
		"storage", storageLabel(cfg),
		"memory_enabled", cfg.Memory.Enabled,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer shutdownCancel()

	// Draining order: first stop new sessions and settle the live ones,
	// then close the listener.
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session drain incomplete", "error", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voiced stopped")
	return nil
}

func storageLabel(cfg config.Config) string {
	if cfg.Storage.Path == "" {
		return "memory"
	}
	return cfg.Storage.Path
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps daemonDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	fs := flag.NewFlagSet("voiced", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// A missing .env is fine; explicit config and env vars still apply.
	_ = godotenv.Load()

	if err := runDaemon(ctx, *configPath, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "voiced: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultDaemonDeps()))
}

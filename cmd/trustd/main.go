package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trustkit/internal/app"
	"trustkit/internal/platform/config"
	"trustkit/internal/platform/httpserver"
	"trustkit/internal/platform/logger"
)

// main wires configuration, the service graph and the admin API, and keeps
// the server lifecycle small. Behaviour lives in internal packages.
func main() {
	configPath := flag.String("config", os.Getenv("TRUSTKIT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "trustd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown cleanup failed", "error", err)
		}
	}()

	handler, err := a.Handler()
	if err != nil {
		return err
	}
	if cfg.Server.AdminToken == "" {
		log.Warn("server.admin_token is empty; admin routes will reject every request")
	}

	a.Maintenance.Start(ctx)
	srv := httpserver.New(cfg.Server, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting trustd", "addr", cfg.Server.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	<-a.Maintenance.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-service/internal/app"
	"auth-service/internal/config"
	"auth-service/internal/observability"
)

func main() {
	logger := observability.NewLogger()
	if err := run(logger); err != nil {
		logger.Error("server_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(logger *observability.Logger) error {
	cfg, err := config.Load(config.LoadOptions{LoadDotEnv: true})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := app.New(ctx, cfg, logger, false)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Error("shutdown_close_failed", map[string]any{"error": err.Error()})
		}
	}()

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("server_start", map[string]any{
		"addr":           addr,
		"env":            cfg.Env,
		"token_delivery": cfg.Tokens.Delivery,
	})
	if err := serve(ctx, server, listener, 10*time.Second); err != nil {
		return err
	}
	logger.Info("server_stopped", nil)
	return nil
}

// serve runs server until ctx is done and returns once in-flight requests have drained
// or drainTimeout passed.
func serve(ctx context.Context, server *http.Server, listener net.Listener, drainTimeout time.Duration) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		shutdownDone <- server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownDone; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

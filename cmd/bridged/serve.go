package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/bridge/api"
)

var (
	migrateOnStart bool
	httpAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume the change feed and serve the HTTP API",
	RunE:  runServe,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply schema migrations before starting")
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides http.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	if migrateOnStart {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	}
	if err := a.engine.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}

	handler, err := api.New(a.engine)
	if err != nil {
		return err
	}
	addr := a.cfg.HTTPAddr
	if httpAddr != "" {
		addr = httpAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Bridge.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.engine.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tillsync/internal/checkout"
	"github.com/roach88/tillsync/internal/httpapi"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, display streams and payment reaper",
		Long: `Run the tillsync HTTP API.

Serves the checkout, order and stock endpoints under /api/v1, the display
and stock websockets, and a background reaper that closes expired payments.
Stops gracefully on SIGINT or SIGTERM.

Example:
  tillsync serve --config tillsync.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, nil)
		},
	}
}

// runServe blocks until ctx is cancelled or the server fails. When ready is
// non-nil it receives the bound address once the listener is open.
func runServe(ctx context.Context, opts *RootOptions, ready chan<- string) error {
	cfg := opts.Config
	logger := opts.logger()

	if cfg.Auth.JWTSecret == "" {
		return NewExitError(ExitCommandError, "auth.jwt_secret is required to serve")
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	api := httpapi.NewServer(a.sessions, a.orders, a.stock,
		httpapi.NewAuthenticator(cfg.Auth.JWTSecret),
		httpapi.WithHealthCheck(a.store.Ping),
		httpapi.WithLogger(logger),
	)
	srv := &http.Server{
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Info("http server listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	reaperDone := make(chan error, 1)
	go func() {
		reaperDone <- checkout.NewReaper(a.sessions, cfg.Checkout.ReaperInterval).Run(reaperCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "http server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	stopReaper()
	if err := <-reaperDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("reaper stopped with error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/mcp"
	"github.com/kuitang/textile-e2e/internal/obs"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP endpoint and metrics",
		Long: `Serve an MCP (Streamable HTTP) endpoint at /mcp so agents can list and run
scenarios and read history, plus Prometheus metrics at /metrics and a
health check at /healthz.

Examples:
  textile-e2e serve                          # LISTEN_ADDR, default :8090
  textile-e2e serve --addr 127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			e, err := newEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.close()

			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return errs.Wrap(errs.Unavailable, "listen on "+cfg.ListenAddr, err)
			}
			cfg.PrintStartupSummary(cmd.ErrOrStderr())
			fmt.Fprintf(cmd.ErrOrStderr(), "MCP endpoint: http://%s/mcp\n", ln.Addr())

			return serve(ctx, ln, newServeHandler(e))
		},
	}
	cmd.Flags().StringVar(&a.overrides.Addr, "addr", "", "Listen address (LISTEN_ADDR)")
	return cmd
}

// newServeHandler routes /mcp, /metrics and /healthz.
func newServeHandler(e *env) http.Handler {
	opts := mcp.Options{
		Scenarios:   e.scenarios,
		Runner:      e.runner,
		Browsers:    e.cfg.Browsers,
		Parallelism: e.cfg.Parallelism,
	}
	if e.store != nil {
		opts.History = e.store
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewServer(mcp.NewHandler(opts), versionStr))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", mux))
}

// serve runs handler on ln until ctx ends, then shuts down gracefully.
func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger := obs.Pkg("cli")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_started", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(errs.Unavailable, "server stopped", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("server_stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(errs.Internal, "shutdown", err)
	}
	return nil
}

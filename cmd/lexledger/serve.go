package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lexbox/ledger"
	audithook "github.com/lexbox/ledger/audit_hook"
	"github.com/lexbox/ledger/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overdue sweeper and expose metrics and health endpoints",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":9090", "listen address for /metrics and /healthz")
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}

	audit := audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"case_id", evt.CaseID,
			"actor", evt.Actor,
			"outcome", evt.Outcome,
		)
		return nil
	}), audithook.WithLogger(logger))

	ctx := cmd.Context()
	l, cleanup, err := newLedger(ctx,
		ledger.WithSweepInterval(cfg.Ledger.SweepInterval),
		ledger.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(prometheus.DefaultRegisterer))),
		ledger.WithPlugin(audit),
	)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := l.Start(ctx); err != nil {
		return err
	}
	defer l.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := l.Store().Ping(pingCtx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

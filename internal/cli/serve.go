package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/metrics"
	"github.com/lazypower/solace/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	m := metrics.Default()

	// Without a store the API still answers, in limited mode.
	var svc engine.Service
	openCtx, cancelOpen := context.WithTimeout(cmd.Context(), 10*time.Second)
	st, err := buildStack(openCtx, cfg, stackOptions{log: log, metrics: m})
	cancelOpen()
	if err != nil {
		log.Error("backend unavailable, serving in limited mode", "error", err)
		svc = engine.NewOffline(VersionString())
	} else {
		defer st.Close()
		svc = st.engine
		log.Info("backend ready", "store", st.store.Kind(), "at", st.where, "llm", cfg.LLM.Provider)
	}

	srv := server.New(svc, VersionString(),
		server.WithLogger(log),
		server.WithMetrics(m, prometheus.DefaultGatherer),
		server.WithRateLimit(cfg.RateLimit),
	)
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("solace serving", "addr", addr, "version", VersionString())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

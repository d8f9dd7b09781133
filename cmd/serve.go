// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/httpapi"
	"github.com/gowgos5/wheelstat/internal/metrics"
	"github.com/gowgos5/wheelstat/internal/session"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the wheel and serve its state over HTTP",
	Long: `Keep a polling session with the wheel and expose it over HTTP.

Endpoints:
  GET  /healthz              liveness
  GET  /api/telemetry        live wheel state
  GET  /api/settings         wheel settings
  GET  /api/session          session and link status
  GET  /api/control          available control operations
  POST /api/control/:op      run a control, body {"value": n} or {"on": bool}
  GET  /metrics              Prometheus metrics (when enabled)

The session reconnects with exponential backoff when the link drops.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("http-addr", ":8080", "HTTP listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open initial connection (serial or WebSocket)
	dialer := NewDialer(cfg.Link)
	conn, connInfo, err := dialer.Dial()
	if err != nil {
		return err
	}

	st, opts, cleanup, err := sessionOptions()
	if err != nil {
		conn.Close()
		return err
	}
	defer cleanup()

	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		opts = append(opts, session.WithMetrics(metrics.New(reg)))
		metricsHandler = metrics.Handler(reg)
	}

	sv := newSupervisor(dialer.Dial, cfg, st, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sv.run(ctx, conn, connInfo)
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := httpapi.New(cfg.HTTP, sv, cfg.Metrics.Path, metricsHandler, logger.With(zap.String("component", "http")))
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()
	logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr), zap.String("conn", connInfo))

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown", zap.Error(shutdownErr))
	}
	<-done

	if commitErr := st.Commit(); commitErr != nil {
		logger.Warn("settings commit failed", zap.Error(commitErr))
	}
	logger.Info("stopped")
	return err
}

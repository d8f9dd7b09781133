// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpapi exposes a session over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gowgos5/wheelstat/internal/config"
	"github.com/gowgos5/wheelstat/internal/poller"
	"github.com/gowgos5/wheelstat/internal/session"
	"github.com/gowgos5/wheelstat/internal/settings"
	"github.com/gowgos5/wheelstat/internal/telemetry"
)

// Wheel is the session surface served by the API
type Wheel interface {
	Status() session.Status
	Telemetry() *telemetry.State
	Settings() *settings.Store
	Control(op string, a session.Arg) error
}

// Server wraps the gin engine and the HTTP server
type Server struct {
	srv *http.Server
}

// New creates the server. metricsHandler is mounted at metricsPath when not nil.
func New(cfg config.HTTPConfig, wheel Wheel, metricsPath string, metricsHandler http.Handler, logger *zap.Logger) *Server {
	return &Server{srv: &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(wheel, metricsPath, metricsHandler, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// NewRouter builds the gin engine with all routes
func NewRouter(wheel Wheel, metricsPath string, metricsHandler http.Handler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{wheel: wheel, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if metricsHandler != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	api := r.Group("/api")
	api.GET("/telemetry", h.telemetry)
	api.GET("/settings", h.settings)
	api.GET("/session", h.session)
	api.GET("/control", h.listOps)
	api.POST("/control/:op", h.control)
	return r
}

type handler struct {
	wheel  Wheel
	logger *zap.Logger
}

func (h *handler) telemetry(c *gin.Context) {
	c.JSON(http.StatusOK, h.wheel.Telemetry().Snapshot())
}

func (h *handler) settings(c *gin.Context) {
	c.JSON(http.StatusOK, h.wheel.Settings().Values())
}

func (h *handler) session(c *gin.Context) {
	c.JSON(http.StatusOK, h.wheel.Status())
}

func (h *handler) listOps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ops": session.Ops()})
}

func (h *handler) control(c *gin.Context) {
	op := c.Param("op")

	var arg session.Arg
	if err := c.ShouldBindJSON(&arg); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.wheel.Control(op, arg); err != nil {
		h.logger.Info("control rejected", zap.String("op", op), zap.Error(err))
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"op": op, "queued": true})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownOp):
		return http.StatusNotFound
	case errors.Is(err, session.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, poller.ErrPowerOffInProgress):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Package server exposes the renderer over HTTP with gin.
//
// Routes:
//   - POST /html2pdf: render {"html": "..."} to a PDF attachment
//   - GET /healthz: probe every pooled browser
//   - GET /metrics: Prometheus exposition
//
// Callers only ever see "rate limited" (429) or an opaque failure with a
// request id (500). Causes stay in the logs under the same request id.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	html2pdf "github.com/alnah/go-html2pdf"
	"github.com/alnah/go-html2pdf/internal/config"
)

// Renderer turns a request into a PDF.
type Renderer interface {
	Render(ctx context.Context, req html2pdf.Request) (*html2pdf.Result, error)
}

// HealthChecker probes the browser pool.
type HealthChecker interface {
	HealthCheck(ctx context.Context) []html2pdf.InstanceStatus
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Renderer Renderer
	Health   HealthChecker
	Metrics  *Metrics // nil disables /metrics
	Logger   *zap.Logger
}

// Server is the HTTP surface of the service.
type Server struct {
	router *gin.Engine
}

// New builds the router. It does not start listening.
func New(srv config.ServerConfig, corsCfg config.CORSConfig, deps Deps) (*Server, error) {
	if deps.Renderer == nil {
		return nil, errors.New("server: renderer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := corsConfig(corsCfg)
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("server: cors: %w", err)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(srv.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}

	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(cors.New(cc))

	h := &handlers{renderer: deps.Renderer, health: deps.Health, logger: logger}

	maxBody := srv.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxBodyBytes
	}
	router.POST("/html2pdf", bodyLimit(maxBody), h.render)
	router.GET("/healthz", h.healthz)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return &Server{router: router}, nil
}

// Handler returns the root handler, for http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

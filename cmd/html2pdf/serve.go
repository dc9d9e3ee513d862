package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	html2pdf "github.com/alnah/go-html2pdf"
	"github.com/alnah/go-html2pdf/internal/config"
	"github.com/alnah/go-html2pdf/internal/server"
)

const readHeaderTimeout = 10 * time.Second

// serveDeps are the process-level collaborators, swapped in tests.
type serveDeps struct {
	logger *zap.Logger
	launch html2pdf.LaunchFunc
	listen func(addr string) (net.Listener, error)
}

// serve starts the pool and the HTTP server, and blocks until ctx is done
// or the listener fails.
//
// Shutdown stops accepting connections, waits up to the grace period for
// in-flight renders, then closes every browser. A pool that cannot start
// is fatal; browsers already started are closed before returning.
func serve(ctx context.Context, cfg *config.Config, deps serveDeps) error {
	logger := deps.logger

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	size := html2pdf.ResolvePoolSize(cfg.Pool.Size)
	logger.Info("starting browser pool", zap.Int("size", size))
	pool, err := html2pdf.NewBrowserPool(ctx, size, deps.launch,
		html2pdf.WithPoolLogger(logger.Named("pool")),
		html2pdf.WithPingTimeout(cfg.Pool.PingTimeout),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("closing browser pool", zap.Error(err))
		}
		logger.Info("browser pool closed")
	}()

	metrics := server.NewMetrics()
	metrics.WatchPool(pool)

	opts := []html2pdf.Option{
		html2pdf.WithSanitizer(cfg.Sanitizer()),
		html2pdf.WithSecurityPolicy(cfg.SecurityPolicy()),
		html2pdf.WithPDFOptions(cfg.PDFOptions()),
		html2pdf.WithViewport(cfg.Viewport()),
		html2pdf.WithTimeout(cfg.Render.Timeout),
		html2pdf.WithCloseTimeout(cfg.Render.CloseTimeout),
		html2pdf.WithLogger(logger.Named("render")),
		html2pdf.WithObserver(metrics),
	}
	if cfg.RateLimit.Enabled {
		limiter := html2pdf.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
		metrics.WatchRateLimiter(limiter)
		opts = append(opts, html2pdf.WithAdmitter(limiter))
	}
	renderer := html2pdf.NewRenderer(pool, opts...)

	srv, err := server.New(cfg.Server, cfg.CORS, server.Deps{
		Renderer: renderer,
		Health:   pool,
		Metrics:  metrics,
		Logger:   logger.Named("http"),
	})
	if err != nil {
		return err
	}

	ln, err := deps.listen(cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.Shutdown.Grace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Grace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("in-flight requests cut off", zap.Error(err))
		_ = httpServer.Close()
	}
	return nil
}

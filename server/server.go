// Package server exposes pairing and session downloads over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"whatsapp-pair-server/whatsapp"
)

const shutdownTimeout = 10 * time.Second

// Options holds configuration for the HTTP server.
type Options struct {
	Addr      string
	PublicURL string
	// PairRate and PairBurst limit /pair requests per client; zero disables
	PairRate  float64
	PairBurst int
	Logger    zerolog.Logger
}

// Server serves the pairing API.
type Server struct {
	manager *whatsapp.AccountManager
	opts    Options
	limiter *RateLimiter
	logger  zerolog.Logger
}

func New(manager *whatsapp.AccountManager, opts Options) *Server {
	s := &Server{
		manager: manager,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "http").Logger(),
	}
	if opts.PairRate > 0 {
		burst := opts.PairBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewRateLimiter(rate.Limit(opts.PairRate), burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	pair := []gin.HandlerFunc{s.handlePair}
	if s.limiter != nil {
		pair = append([]gin.HandlerFunc{rateLimit(s.limiter)}, pair...)
	}
	router.GET("/pair", pair...)
	router.GET("/sessions", s.handleList)
	router.GET("/session/:id", s.handleSession)
	router.GET("/session/:id/qr.png", s.handleQR)
	router.DELETE("/session/:id", s.handleStop)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Start runs the HTTP server. It blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.StartCleanup(ctx)
	}

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Pairing waits for the connection and retries, so writes get a generous budget.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

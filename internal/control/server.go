// Package control serves the local HTTP control surface of a running worker:
// status, pause and resume, runtime log level, journal history and a live
// events socket.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/internal/config"
)

const (
	defaultRequestTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// Server hosts the control API.
type Server struct {
	cfg        config.ControlConfig
	logger     *zap.Logger
	handlers   *Handlers
	hub        *Hub
	httpServer *http.Server
}

// NewServer builds the control server. history may be nil.
func NewServer(cfg config.ControlConfig, ctrl Controller, history HistoryReader, hub *Hub, logger *zap.Logger) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("controller cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	logger = logger.Named("control")
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: NewHandlers(logger, ctrl, history, hub),
		hub:      hub,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Hub returns the events hub the server streams from.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The events socket is long-lived, so it sits outside the timeout group.
	r.Get("/ws/v1/events", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Use(requestLogger(s.logger))
		s.handlers.RegisterRoutes(r)
	})
	return r
}

// Start listens on the configured address and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Control server starting", zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down control server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown.
	s.hub.Close()
	err := s.httpServer.Shutdown(shutdownCtx)
	<-errCh
	if err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	s.logger.Info("Control server stopped.")
	return nil
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

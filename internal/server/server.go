package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/l0p7/swkit/internal/config"
)

const (
	defaultShutdownGrace = 5 * time.Second
	readHeaderTimeout    = 10 * time.Second
	idleTimeout          = 120 * time.Second
)

// Option adjusts a Server.
type Option func(*Server)

// WithDrain runs fn after the listener stops accepting requests, bounded by
// the shutdown grace period. Workers pass their Close here so pending
// background tasks finish before the process exits.
func WithDrain(fn func(context.Context) error) Option {
	return func(s *Server) { s.drain = fn }
}

// WithShutdownGrace bounds how long shutdown and drain may take.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.grace = d
		}
	}
}

// Server is the HTTP front of a worker.
type Server struct {
	addr   string
	logger *slog.Logger
	http   *http.Server
	drain  func(context.Context) error
	grace  time.Duration
	stop   sync.Once
}

// New prepares a server for handler on cfg.Server.Listen. Nothing is bound
// until Run.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   net.JoinHostPort(cfg.Server.Listen.Address, strconv.Itoa(cfg.Server.Listen.Port)),
		logger: logger.With(slog.String("agent", "http")),
		grace:  defaultShutdownGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// Run binds the listener and serves until ctx ends, then stops accepting
// requests and drains the worker. A bind failure is returned at once.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	s.logger.Info("worker listener started", slog.String("address", ln.Addr().String()))

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
		defer cancel()
		if err := s.shutdown(stopCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-served:
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
		defer cancel()
		_ = s.shutdown(stopCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	}
}

func (s *Server) shutdown(ctx context.Context) error {
	var err error
	s.stop.Do(func() {
		s.logger.Info("worker listener stopping")
		if err = s.http.Shutdown(ctx); err != nil {
			err = fmt.Errorf("server: shutdown: %w", err)
		}
		if s.drain == nil {
			return
		}
		if derr := s.drain(ctx); derr != nil {
			s.logger.Warn("worker background work not drained", slog.Any("error", derr))
		}
	})
	return err
}

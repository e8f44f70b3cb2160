// Package server owns the HTTP listener lifecycle and the route table. A
// Server moves through stopped, starting, running, stopping and error, and
// can be started again after a stop or a failed bind.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osaurus-ai/osaurus/pkg/server/handlers"
	"github.com/osaurus-ai/osaurus/pkg/stream"
)

// State is the lifecycle phase of a Server.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// ErrNotReady is returned when Start or Stop is called while the opposite
// transition is still in progress.
var ErrNotReady = errors.New("server is mid-transition")

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// Server serves the gateway API on one TCP listener at a time.
type Server struct {
	deps    handlers.Deps
	handler http.Handler
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	lastErr error
	addr    string
	httpSrv *http.Server
	// cancel aborts the base context every request context derives from;
	// a graceful stop cancels with stream.ErrServerStopping as the cause so
	// sessions close their streams with a finish delta.
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New builds a Server around the given handler dependencies. The route table
// is assembled once and reused across restarts.
func New(deps handlers.Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:    deps,
		handler: NewRouter(deps),
		logger:  logger,
		state:   StateStopped,
	}
}

// State returns the current lifecycle phase.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure recorded by the last transition into StateError.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Addr returns the bound listen address, or empty when not running. It
// reports the actual port, which matters when the configured port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the configured address and begins serving. Calling Start on a
// running or starting server is a no-op. A failed bind leaves the server in
// StateError; Start may be called again to retry.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning, StateStarting:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return ErrNotReady
	}
	s.state = StateStarting
	addr := s.deps.Settings.Addr()
	s.mu.Unlock()

	ln, err := listen(ctx, addr)
	if err != nil {
		err = fmt.Errorf("bind %s: %w", addr, err)
		s.mu.Lock()
		s.state = StateError
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("server failed to bind", zap.String("addr", addr), zap.Error(err))
		return err
	}

	baseCtx, cancel := context.WithCancelCause(context.Background())
	srv := &http.Server{
		Handler:           s.handler,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateRunning
	s.lastErr = nil
	s.addr = ln.Addr().String()
	s.httpSrv = srv
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		serveErr := srv.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.mu.Lock()
			s.state = StateError
			s.lastErr = serveErr
			s.addr = ""
			s.mu.Unlock()
			s.logger.Error("server stopped serving", zap.Error(serveErr))
		}
	}()

	s.logger.Info("server listening", zap.String("addr", s.Addr()))
	return nil
}

// Stop gracefully shuts the server down: in-flight request contexts are
// canceled with stream.ErrServerStopping so streaming sessions write their
// finish delta and terminator, then the listener drains within the shutdown
// grace period. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped, StateError, StateStopping:
		s.mu.Unlock()
		return nil
	case StateStarting:
		s.mu.Unlock()
		return ErrNotReady
	}
	s.state = StateStopping
	srv := s.httpSrv
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel(stream.ErrServerStopping)

	grace := s.deps.Settings.ShutdownGrace()
	shutdownCtx, release := context.WithTimeout(ctx, grace)
	defer release()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("graceful shutdown exceeded grace period", zap.Error(err))
		err = srv.Close()
	}
	<-done

	s.mu.Lock()
	s.state = StateStopped
	s.addr = ""
	s.httpSrv = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.logger.Info("server stopped")
	return err
}

// Serve applies a control-plane serve command: it starts a stopped server,
// leaves a running one alone when the bind parameters are unchanged, and
// restarts it when the port or exposure changed.
func (s *Server) Serve(ctx context.Context, port *int, expose *bool) error {
	s.mu.Lock()
	cfg := s.deps.Settings
	newPort := cfg.Port
	if port != nil {
		newPort = *port
	}
	newExpose := cfg.ExposeToNetwork
	if expose != nil {
		newExpose = *expose
	}
	changed := newPort != cfg.Port || newExpose != cfg.ExposeToNetwork
	cfg.Port = newPort
	cfg.ExposeToNetwork = newExpose
	running := s.state == StateRunning
	s.mu.Unlock()

	if running && !changed {
		return nil
	}
	if running {
		if err := s.Stop(ctx); err != nil {
			return err
		}
	}
	return s.Start(ctx)
}

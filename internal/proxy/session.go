// Package proxy runs the recording proxy session: an HTTP(S) proxy bound
// to a source stack, replaying each requested URL as it existed at the
// session's default timestamp and recording what the remote tiers serve.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/metrics"
	"github.com/sliver-archive/sliver/internal/stack"
)

var (
	// ErrStartupTimeout is returned when the proxy does not answer its
	// readiness probe within the configured window.
	ErrStartupTimeout = errors.New("proxy not ready")

	// ErrSessionStopped is returned by operations on a session whose Stop
	// has already run.
	ErrSessionStopped = errors.New("session stopped")
)

// Config carries the session's network and startup settings.
type Config struct {
	// Host is the bind address, localhost by default.
	Host string
	// Port is the listen port. Zero picks an ephemeral port.
	Port int
	// DefaultTimestamp seeds the timestamp used for requests that carry
	// no timestamp information of their own.
	DefaultTimestamp cdx.Timestamp
	// ReadyTimeout bounds how long Start waits for the readiness probe.
	ReadyTimeout time.Duration
	// ReadyInterval is the probe polling period.
	ReadyInterval time.Duration
	Logger        *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type sessionState int

const (
	stateNew sessionState = iota
	stateStarted
	stateStopped
)

// Session owns one proxy lifecycle: Start, serve, Stop. A session cannot
// be restarted; build a new one per batch.
type Session struct {
	cfg    Config
	stack  *stack.Stack
	logger *zap.Logger

	mu        sync.Mutex
	state     sessionState
	defaultTS cdx.Timestamp
	srv       *http.Server
	addr      string
	done      chan struct{}
}

// NewSession binds a session to st. The stack stays owned by the caller;
// stopping the session does not close it.
func NewSession(st *stack.Stack, cfg Config) *Session {
	cfg = cfg.withDefaults()
	metrics.Init()
	return &Session{
		cfg:       cfg,
		stack:     st,
		logger:    cfg.Logger,
		defaultTS: cfg.DefaultTimestamp,
	}
}

// Start listens, serves in the background, and blocks until the proxy
// answers its own readiness endpoint or the ready window closes. On
// readiness failure the server is torn down before returning.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateStarted:
		s.mu.Unlock()
		return errors.New("session already started")
	case stateStopped:
		s.mu.Unlock()
		return ErrSessionStopped
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("proxy listen: %w", err)
	}

	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           newHandler(s.stack, s.DefaultTimestamp, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})
	s.state = stateStarted
	srv, done := s.srv, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy server exited", zap.Error(err))
		}
	}()

	if err := s.waitReady(ctx); err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		s.mu.Lock()
		s.state = stateStopped
		s.mu.Unlock()
		return err
	}

	s.logger.Info("recording proxy ready",
		zap.String("addr", s.addr),
		zap.String("source", s.stack.Name()),
		zap.String("timestamp", string(s.DefaultTimestamp())))
	return nil
}

// waitReady polls the session's own health endpoint until it answers,
// the ready window closes, or ctx is canceled.
func (s *Session) waitReady(ctx context.Context) error {
	probe := &http.Client{Timeout: s.cfg.ReadyTimeout}
	url := "http://" + s.Addr() + "/healthz"
	deadline := time.Now().Add(s.cfg.ReadyTimeout)

	ticker := time.NewTicker(s.cfg.ReadyInterval)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building readiness probe: %w", err)
		}
		resp, err := probe.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrStartupTimeout, s.cfg.ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop shuts the proxy down, draining in-flight requests until ctx
// expires. A session can be stopped once; later calls report
// ErrSessionStopped so double teardown is visible to the caller.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateStopped:
		s.mu.Unlock()
		return ErrSessionStopped
	case stateNew:
		s.state = stateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	srv, done := s.srv, s.done
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info("recording proxy stopped", zap.String("addr", s.addr))
	return err
}

// SetDefaultTimestamp pins the timestamp used for proxied requests that
// carry none themselves. Changing it mid-batch is unsafe for requests
// already in flight; callers set it between batches.
func (s *Session) SetDefaultTimestamp(ts cdx.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return ErrSessionStopped
	}
	s.defaultTS = ts
	s.logger.Info("default timestamp set", zap.String("timestamp", string(ts)))
	return nil
}

// DefaultTimestamp returns the timestamp currently applied to proxied
// requests without one.
func (s *Session) DefaultTimestamp() cdx.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultTS
}

// Addr returns the listen address once Start has succeeded, in host:port
// form suitable for a browser proxy-server option.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// URL returns the proxy address as an http URL.
func (s *Session) URL() string {
	return "http://" + s.Addr()
}

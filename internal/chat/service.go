package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/chatrelay/internal/observability"
	"github.com/rs/zerolog/log"
)

// Service owns the shared Registry, the accept loop, and every live transport.
type Service struct {
	cfg ServiceConfig

	registry  *Registry
	router    *Router
	startedAt time.Time

	sessionSeq   atomic.Uint64
	sessionCount atomic.Int64

	transportsMu sync.Mutex
	transports   map[Transport]struct{}
	shutdown     bool
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	registry := NewRegistry()
	return &Service{
		cfg:        cfg.WithDefaults(),
		registry:   registry,
		router:     NewRouter(registry),
		startedAt:  time.Now(),
		transports: make(map[Transport]struct{}),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Router() *Router {
	return s.router
}

// ActiveSessions counts sessions from accept to cleanup, negotiated or not.
func (s *Service) ActiveSessions() int64 {
	return s.sessionCount.Load()
}

// Run blocks until SIGINT/SIGTERM or a fatal listener error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext binds the chat listener and the configured HTTP surfaces, then serves
// until ctx ends. A bind failure is returned before anything is served.
func (s *Service) RunContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("chat: listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Str("node", s.cfg.NodeID).Msg("chat.Service listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 2)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			httpErr <- serveHTTP(ctx, "admin", addr, s.AdminHandler())
		}()
	}
	if addr := strings.TrimSpace(s.cfg.WSListenAddr); addr != "" {
		go func() {
			httpErr <- serveHTTP(ctx, "gateway", addr, s.GatewayHandler())
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-httpErr:
		if err != nil {
			cancel()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve accepts on ln until ctx ends or ln is closed. Each connection gets its own
// Session goroutine; failed accepts are logged and retried. Live transports are
// closed once Serve returns, whichever way it ends.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		s.closeAllTransports()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			observability.RecordAcceptError()
			log.Warn().Err(err).Msg("chat.Service accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.AcceptRetryDelay):
			}
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	s.runSession(NewLineConn(conn, s.cfg.WriteTimeout))
}

// runSession owns t until the Session ends.
func (s *Service) runSession(t Transport) {
	if !s.trackTransport(t) {
		_ = t.Close()
		return
	}
	defer s.untrackTransport(t)

	kind := t.Kind()
	remote := t.RemoteAddr()
	active := s.sessionCount.Add(1)
	observability.RecordSessionOpened(kind)
	log.Info().Str("remote", remote).Str("transport", kind).Int64("active_sessions", active).
		Msg("chat.session connected")
	defer func() {
		remaining := s.sessionCount.Add(-1)
		observability.RecordSessionClosed(kind)
		log.Info().Str("remote", remote).Str("transport", kind).Int64("active_sessions", remaining).
			Msg("chat.session disconnected")
	}()

	NewSession(s.sessionSeq.Add(1), t, s.registry, s.router).Run()
}

func (s *Service) trackTransport(t Transport) bool {
	s.transportsMu.Lock()
	defer s.transportsMu.Unlock()
	if s.shutdown {
		return false
	}
	s.transports[t] = struct{}{}
	return true
}

func (s *Service) untrackTransport(t Transport) {
	s.transportsMu.Lock()
	defer s.transportsMu.Unlock()
	delete(s.transports, t)
}

// closeAllTransports ends every live stream; sessions clean up on their own read error.
// Closes run outside transportsMu so one slow transport cannot stall trackTransport.
func (s *Service) closeAllTransports() {
	s.transportsMu.Lock()
	s.shutdown = true
	live := make([]Transport, 0, len(s.transports))
	for t := range s.transports {
		live = append(live, t)
		delete(s.transports, t)
	}
	s.transportsMu.Unlock()

	for _, t := range live {
		_ = t.Close()
	}
}

func serveHTTP(ctx context.Context, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Str("surface", name).Msg("chat.Service http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("chat: %s listen %s: %w", name, addr, err)
	}
	return nil
}

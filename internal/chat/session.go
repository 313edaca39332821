package chat

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/chatrelay/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the protocol phase of one Session.
type State int32

const (
	StateConnecting State = iota
	StateNameRequested
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNameRequested:
		return "name_requested"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateFn runs one state and returns the next; nil means CLOSED.
type stateFn func() stateFn

// Session drives handle negotiation and message relay for one transport.
type Session struct {
	id        uint64
	transport Transport
	registry  *Registry
	router    *Router
	logger    zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	handle  string
	claimed bool
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

func NewSession(id uint64, transport Transport, registry *Registry, router *Router) *Session {
	return &Session{
		id:        id,
		transport: transport,
		registry:  registry,
		router:    router,
		logger: log.With().
			Uint64("session", id).
			Str("remote", transport.RemoteAddr()).
			Str("transport", transport.Kind()).
			Logger(),
	}
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Handle returns the claimed handle, or "" before negotiation completes.
func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Run blocks until the stream ends, then cleans up.
func (s *Session) Run() {
	defer s.Close()
	for next := s.connecting; next != nil; {
		next = next()
	}
}

// Close releases the handle, unbinds the sink, and closes the transport.
// Repeated calls are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := State(s.state.Swap(int32(StateClosed)))
		handle, claimed := s.handle, s.claimed
		s.claimed = false
		s.closed = true
		s.mu.Unlock()

		if claimed {
			s.registry.RemoveSink(handle)
			s.registry.Release(handle)
		}
		s.closeErr = s.transport.Close()
		s.logger.Debug().Str("handle", handle).Str("from", prev.String()).Msg("chat.session closed")
	})
	return s.closeErr
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) connecting() stateFn {
	if err := s.transport.Deliver(DirectiveSubmitName); err != nil {
		s.logStreamErr("submit name", err)
		return nil
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateNameRequested)) {
		return nil
	}
	return s.nameRequested
}

func (s *Session) nameRequested() stateFn {
	proposed, err := s.transport.ReadLine()
	if err != nil {
		s.logStreamErr("read handle", err)
		return nil
	}
	if !s.registry.TryClaim(proposed) {
		observability.RecordClaim(false)
		s.logger.Debug().Str("handle", proposed).Msg("chat.session handle in use")
		if err := s.transport.Deliver(DirectiveSubmitName); err != nil {
			s.logStreamErr("resubmit name", err)
			return nil
		}
		return s.nameRequested
	}
	observability.RecordClaim(true)

	// A concurrent Close may have run since the claim; it cannot see this
	// handle yet, so give it back here.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.registry.Release(proposed)
		return nil
	}
	s.handle = proposed
	s.claimed = true
	s.mu.Unlock()

	if err := s.transport.Deliver(DirectiveNameAccepted); err != nil {
		s.logStreamErr("name accepted", err)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.registry.SetSink(proposed, s.transport)
	s.setState(StateActive)
	s.mu.Unlock()
	s.logger.Info().Str("handle", proposed).Msg("chat.session handle accepted")
	return s.active
}

func (s *Session) active() stateFn {
	for {
		line, err := s.transport.ReadLine()
		if err != nil {
			s.logStreamErr("read message", err)
			return nil
		}
		s.dispatch(line)
	}
}

func (s *Session) dispatch(line string) {
	handle := s.Handle()
	in := ParseInbound(line)
	switch in.Kind {
	case InboundWhisper:
		s.router.Whisper(handle, in.Target, in.Text)
	default:
		s.router.Broadcast(handle + ": " + in.Text)
	}
}

// logStreamErr keeps ordinary disconnects out of warn level.
func (s *Session) logStreamErr(op string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.logger.Debug().Str("op", op).Str("handle", s.Handle()).Msg("chat.session stream ended")
		return
	}
	s.logger.Warn().Err(err).Str("op", op).Str("handle", s.Handle()).Msg("chat.session stream error")
}

// ABOUTME: Per-connection session state machine: Unauthenticated, Bound, Closed
// ABOUTME: Processes one connection's frames in arrival order and unbinds on close

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/chatline/internal/realtime"
)

// State is a session's lifecycle state
type State int32

const (
	StateUnauthenticated State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one connection's binding to an identity
type Session struct {
	router   *Router
	conn     realtime.Conn
	identity string
	logger   *slog.Logger

	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(r *Router, conn realtime.Conn) *Session {
	return &Session{
		router: r,
		conn:   conn,
		logger: r.logger.With("conn", conn.ID()),
		done:   make(chan struct{}),
	}
}

// Identity returns the bound identity, or "" before binding
func (s *Session) Identity() string { return s.identity }

// State returns the current lifecycle state
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the session closes
func (s *Session) Done() <-chan struct{} { return s.done }

// Run handles frames in order until frames is closed or an event arrives on
// a session that is not bound, then closes the session.
func (s *Session) Run(ctx context.Context, frames <-chan []byte) {
	defer s.Close()
	for frame := range frames {
		if err := s.HandleFrame(ctx, frame); errors.Is(err, ErrNotBound) {
			return
		}
	}
}

// HandleFrame decodes and handles one inbound frame. Malformed frames are
// dropped and leave the session bound.
func (s *Session) HandleFrame(ctx context.Context, frame []byte) error {
	if s.State() != StateBound {
		return ErrNotBound
	}
	env, err := realtime.Decode(frame)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBadPayload, err)
		s.router.observer.Dropped("", s.identity, Kind(err), err)
		return err
	}
	return s.Handle(ctx, env)
}

// Handle dispatches one event. Handlers run to completion under their own
// deadline even if ctx is cancelled by a disconnect.
func (s *Session) Handle(ctx context.Context, env realtime.Envelope) error {
	if s.State() != StateBound {
		return ErrNotBound
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.router.handlerTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch env.Event {
	case EventMessagePage:
		err = s.openThread(hctx, env.Data)
	case EventNewMessage:
		err = s.sendMessage(hctx, env.Data)
	case EventSidebar:
		err = s.listConversations(hctx, env.Data)
	case EventSeen:
		err = s.markSeen(hctx, env.Data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err != nil {
		s.router.observer.Dropped(env.Event, s.identity, Kind(err), err)
		return err
	}
	s.router.observer.Handled(env.Event, s.identity, time.Since(start))
	return nil
}

// Close unbinds the session and closes its connection. Safe to call more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.State() == StateBound {
			if s.router.unbind(s) {
				s.logger.Info("session closed")
			} else {
				s.logger.Debug("session closed after replacement")
			}
		}
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.conn.Close(realtime.CloseNormal, "")
	})
}

// finish marks a session that never bound as closed
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

func (s *Session) emit(identity, event string, data any) {
	s.router.hub.EmitToRoom(identity, event, data)
}

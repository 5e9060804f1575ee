// ABOUTME: Session router: authenticates new connections and binds them to an identity
// ABOUTME: Bind and unbind update presence and the fan-out hub atomically and broadcast the online set

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chatline/internal/conversation"
	"github.com/2389/chatline/internal/dedupe"
	"github.com/2389/chatline/internal/realtime"
)

const defaultHandlerTimeout = 10 * time.Second

// Authenticator resolves a credential to an identity. auth.Gate satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Presence is the live online set. presence.Registry satisfies it.
type Presence interface {
	Join(identity string) bool
	Leave(identity string) bool
	IsOnline(identity string) bool
	Snapshot() []string
}

// Fanout delivers events to identity rooms. realtime.Hub satisfies it.
type Fanout interface {
	Attach(identity string, conn realtime.Conn) realtime.Conn
	Detach(identity string, conn realtime.Conn) bool
	EmitToRoom(identity, event string, data any) bool
	EmitToAll(event string, data any) int
}

// Config wires a Router. Dedupe, Observer and HandlerTimeout are optional.
type Config struct {
	Gate           Authenticator
	Presence       Presence
	Conversations  *conversation.Service
	Hub            Fanout
	Dedupe         *dedupe.Cache
	Observer       Observer
	HandlerTimeout time.Duration
	Logger         *slog.Logger
}

// Router owns the shared state every session touches
type Router struct {
	gate           Authenticator
	presence       Presence
	conversations  *conversation.Service
	hub            Fanout
	dedupe         *dedupe.Cache
	observer       Observer
	handlerTimeout time.Duration
	logger         *slog.Logger

	// bindMu makes each bind or unbind, and its broadcast, one step with
	// respect to every other bind or unbind.
	bindMu sync.Mutex
}

// NewRouter creates a Router
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NewLogObserver(logger)
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &Router{
		gate:           cfg.Gate,
		presence:       cfg.Presence,
		conversations:  cfg.Conversations,
		hub:            cfg.Hub,
		dedupe:         cfg.Dedupe,
		observer:       observer,
		handlerTimeout: timeout,
		logger:         logger.With("component", "session-router"),
	}
}

// Open authenticates token and binds conn to the resulting identity. On
// failure conn is closed with a policy-violation code, nothing is registered
// and nothing is broadcast.
func (r *Router) Open(ctx context.Context, token string, conn realtime.Conn) (*Session, error) {
	s := newSession(r, conn)

	identity, err := r.gate.Authenticate(ctx, token)
	if err != nil {
		s.finish()
		conn.Close(realtime.ClosePolicyViolation, "unauthorized")
		r.observer.Dropped("connect", "", Kind(err), err)
		return nil, err
	}

	s.identity = identity
	s.logger = s.logger.With("identity", identity)

	r.bindMu.Lock()
	r.presence.Join(identity)
	r.hub.Attach(identity, conn)
	s.state.Store(int32(StateBound))
	r.hub.EmitToAll(EventOnlineUser, r.presence.Snapshot())
	r.bindMu.Unlock()

	r.logger.Info("session bound", "identity", identity, "conn", conn.ID())
	return s, nil
}

// unbind removes s from the hub and, if it was still the identity's live
// connection, from presence. Reports whether presence changed.
func (r *Router) unbind(s *Session) bool {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	if !r.hub.Detach(s.identity, s.conn) {
		return false
	}
	r.presence.Leave(s.identity)
	r.hub.EmitToAll(EventOnlineUser, r.presence.Snapshot())
	return true
}

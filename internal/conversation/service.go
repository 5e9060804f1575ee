// ABOUTME: Conversation gateway: resolves the one conversation per pair, appends and marks messages seen
// ABOUTME: Builds recency-ordered conversation summaries with a presence snapshot of each peer

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatline/internal/pairlock"
	"github.com/2389/chatline/internal/store"
)

// ErrInvalidParticipant is returned when a participant id is empty
var ErrInvalidParticipant = errors.New("participant id is required")

const defaultLockTimeout = 2 * time.Second

// OnlineChecker reports live presence. The presence registry satisfies it.
type OnlineChecker interface {
	IsOnline(identity string) bool
}

// Config wires the service. Store and Presence are required.
type Config struct {
	Store       store.Store
	Presence    OnlineChecker
	Locker      pairlock.Locker // optional
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// Service is the conversation gateway
type Service struct {
	store       store.Store
	presence    OnlineChecker
	locker      pairlock.Locker
	lockTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Service
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &Service{
		store:       cfg.Store,
		presence:    cfg.Presence,
		locker:      cfg.Locker,
		lockTimeout: timeout,
		logger:      logger.With("component", "conversation"),
	}
}

// Find returns the existing conversation between a and b, or store.ErrNotFound
func (s *Service) Find(ctx context.Context, a, b string) (*store.Conversation, error) {
	return s.store.GetConversationByPair(ctx, a, b)
}

// ResolveOrCreate returns the single conversation for the unordered pair
// {a, b}, creating it if needed. Concurrent callers for the same pair all get
// the same conversation: the store rejects a second insert for the pair and
// the loser re-reads the winner's row.
func (s *Service) ResolveOrCreate(ctx context.Context, a, b string) (*store.Conversation, error) {
	if a == "" || b == "" {
		return nil, ErrInvalidParticipant
	}

	key := store.PairKey(a, b)
	if s.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
		unlock, err := s.locker.Lock(lockCtx, key)
		cancel()
		if err != nil {
			s.logger.Warn("pair lock unavailable, relying on store uniqueness", "pair_key", key, "error", err)
		} else {
			defer unlock()
		}
	}

	conv, err := s.store.GetConversationByPair(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:        uuid.New().String(),
		PairKey:   key,
		Sender:    a,
		Receiver:  b,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, store.ErrDuplicateConversation) {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		// Another session created it between our lookup and insert
		existing, lookupErr := s.store.GetConversationByPair(ctx, a, b)
		if lookupErr != nil {
			s.logger.Error("lookup failed after duplicate conversation", "pair_key", key, "error", lookupErr)
			return nil, fmt.Errorf("resolving conversation after duplicate: %w", lookupErr)
		}
		s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
		return existing, nil
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "pair_key", key)
	return conv, nil
}

// AppendMessage persists msg at the end of conversationID. ID and CreatedAt
// are filled in when empty. Returns store.ErrNotFound for an unknown conversation.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, msg *store.Message) (*store.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ConversationID = conversationID
	msg.Seen = false

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"author", msg.AuthorID)
	return msg, nil
}

// Messages returns the conversation's messages in append order
func (s *Service) Messages(ctx context.Context, conversationID string) ([]MessageView, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ViewOf(m))
	}
	return out, nil
}

// History returns the messages shared by a and b, or an empty list when they
// have never talked.
func (s *Service) History(ctx context.Context, a, b string) ([]MessageView, error) {
	conv, err := s.store.GetConversationByPair(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		return []MessageView{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	return s.Messages(ctx, conv.ID)
}

// MarkSeen flips seen on the unseen messages authored by byIdentity.
// A viewer passes the other participant. Zero is a valid count.
func (s *Service) MarkSeen(ctx context.Context, conversationID, byIdentity string) (int64, error) {
	n, err := s.store.MarkSeen(ctx, conversationID, byIdentity)
	if err != nil {
		return 0, fmt.Errorf("marking seen: %w", err)
	}
	if n > 0 {
		s.logger.Debug("messages marked seen", "conversation_id", conversationID, "author", byIdentity, "count", n)
	}
	return n, nil
}

// Profile returns the public profile of identity with its current online flag.
// Returns store.ErrNotFound if the user does not exist.
func (s *Service) Profile(ctx context.Context, identity string) (*Profile, error) {
	user, err := s.store.GetUser(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	p := profileOf(user, s.presence.IsOnline(identity))
	return &p, nil
}

// SummariesFor returns every conversation involving identity, most recently
// active first. Online flags are read once per summary at computation time.
func (s *Service) SummariesFor(ctx context.Context, identity string) ([]Summary, error) {
	convs, err := s.store.ListConversationsFor(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summaries := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		sum, err := s.summarize(ctx, conv, identity)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *Service) summarize(ctx context.Context, conv *store.Conversation, identity string) (Summary, error) {
	peerID := conv.Peer(identity)

	peer := Profile{ID: peerID}
	user, err := s.store.GetUser(ctx, peerID)
	switch {
	case err == nil:
		peer = profileOf(user, false)
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("conversation peer missing from directory", "conversation_id", conv.ID, "peer", peerID)
	default:
		return Summary{}, fmt.Errorf("looking up peer: %w", err)
	}
	peer.Online = s.presence.IsOnline(peerID)

	unseen, err := s.store.CountUnseen(ctx, conv.ID, peerID)
	if err != nil {
		return Summary{}, fmt.Errorf("counting unseen: %w", err)
	}

	var last *MessageView
	lastMsg, err := s.store.LastMessage(ctx, conv.ID)
	switch {
	case err == nil:
		v := ViewOf(lastMsg)
		last = &v
	case errors.Is(err, store.ErrNotFound):
	default:
		return Summary{}, fmt.Errorf("loading last message: %w", err)
	}

	return Summary{
		ID:        conv.ID,
		Peer:      peer,
		UnseenMsg: unseen,
		LastMsg:   last,
		UpdatedAt: conv.UpdatedAt,
	}, nil
}

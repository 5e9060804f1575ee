// ABOUTME: Event handlers for a bound session: open a thread, send, list conversations, mark seen
// ABOUTME: Every payload is computed before the first emit so a store failure never fans out partially

package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/chatline/internal/conversation"
	"github.com/2389/chatline/internal/dedupe"
	"github.com/2389/chatline/internal/store"
)

// openThread sends the target's profile and the shared history to the
// requester only. An unknown target is a no-op.
func (s *Session) openThread(ctx context.Context, raw json.RawMessage) error {
	target, err := requireIdentity(raw)
	if err != nil {
		return err
	}

	conv := s.router.conversations
	profile, err := conv.Profile(ctx, target)
	if err != nil {
		return fmt.Errorf("opening thread with %s: %w", target, err)
	}
	history, err := conv.History(ctx, s.identity, target)
	if err != nil {
		return err
	}

	s.emit(s.identity, EventMessageUser, profile)
	s.emit(s.identity, EventMessage, history)
	return nil
}

func (s *Session) sendMessage(ctx context.Context, raw json.RawMessage) error {
	p, err := decodeNewMessage(raw)
	if err != nil {
		return err
	}
	if p.Sender != "" && p.Sender != s.identity {
		return fmt.Errorf("%w: sender %s", ErrIdentityMismatch, p.Sender)
	}
	if p.MsgByUserID != "" && p.MsgByUserID != s.identity {
		return fmt.Errorf("%w: msgByUserId %s", ErrIdentityMismatch, p.MsgByUserID)
	}
	if p.Receiver == "" {
		return fmt.Errorf("%w: receiver is required", ErrBadPayload)
	}

	msg := &store.Message{
		AuthorID: s.identity,
		Text:     p.Text,
		ImageURL: p.ImageURL,
		VideoURL: p.VideoURL,
	}
	if !msg.HasContent() {
		return ErrEmptyMessage
	}

	conv := s.router.conversations
	if _, err := conv.Profile(ctx, p.Receiver); err != nil {
		return fmt.Errorf("sending to %s: %w", p.Receiver, err)
	}

	key := dedupe.Key{Sender: s.identity, ClientID: p.ClientMsgID}
	if s.router.dedupe != nil && s.router.dedupe.CheckAndMark(key) {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, p.ClientMsgID)
	}
	forget := func() {
		if s.router.dedupe != nil {
			s.router.dedupe.Forget(key)
		}
	}

	c, err := conv.ResolveOrCreate(ctx, s.identity, p.Receiver)
	if err != nil {
		forget()
		return err
	}
	if _, err := conv.AppendMessage(ctx, c.ID, msg); err != nil {
		forget()
		return err
	}

	messages, err := conv.Messages(ctx, c.ID)
	if err != nil {
		return err
	}
	recipients := participants(s.identity, p.Receiver)
	summaries, err := s.summariesFor(ctx, recipients)
	if err != nil {
		return err
	}

	for _, id := range recipients {
		s.emit(id, EventMessage, messages)
	}
	for i, id := range recipients {
		s.emit(id, EventConversation, summaries[i])
	}
	return nil
}

// listConversations sends the requester's conversation list to its own room.
// The payload may name the requester or be empty.
func (s *Session) listConversations(ctx context.Context, raw json.RawMessage) error {
	requested, err := decodeIdentity(raw)
	if err != nil {
		return err
	}
	if requested != "" && requested != s.identity {
		return fmt.Errorf("%w: sidebar for %s", ErrIdentityMismatch, requested)
	}

	summaries, err := s.router.conversations.SummariesFor(ctx, s.identity)
	if err != nil {
		return err
	}
	s.emit(s.identity, EventConversation, summaries)
	return nil
}

// markSeen flags the peer's messages as seen and refreshes both lists.
// No shared conversation is a no-op.
func (s *Session) markSeen(ctx context.Context, raw json.RawMessage) error {
	peer, err := requireIdentity(raw)
	if err != nil {
		return err
	}

	conv := s.router.conversations
	c, err := conv.Find(ctx, s.identity, peer)
	if err != nil {
		return fmt.Errorf("marking seen with %s: %w", peer, err)
	}
	if _, err := conv.MarkSeen(ctx, c.ID, peer); err != nil {
		return err
	}

	recipients := participants(s.identity, peer)
	summaries, err := s.summariesFor(ctx, recipients)
	if err != nil {
		return err
	}
	for i, id := range recipients {
		s.emit(id, EventConversation, summaries[i])
	}
	return nil
}

func (s *Session) summariesFor(ctx context.Context, identities []string) ([][]conversation.Summary, error) {
	out := make([][]conversation.Summary, len(identities))
	for i, id := range identities {
		sums, err := s.router.conversations.SummariesFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i] = sums
	}
	return out, nil
}

// participants lists self first, then other unless it is self
func participants(self, other string) []string {
	if self == other {
		return []string{self}
	}
	return []string{self, other}
}

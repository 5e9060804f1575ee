// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the one-conversation-per-pair rule

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	emails        map[string]string        // email -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	pairs         map[string]string        // pair key -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, append order
	seq           int64

	// Fail, when set, is returned by every mutating call. Tests use it to
	// simulate backend outages.
	Fail error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		emails:        make(map[string]string),
		conversations: make(map[string]*Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

// SetFail sets or clears the injected failure
func (m *MockStore) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = err
}

func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if _, ok := m.emails[user.Email]; ok {
		return ErrDuplicateUser
	}
	u := *user
	m.users[u.ID] = &u
	m.emails[u.Email] = u.ID
	return nil
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	id, ok := m.emails[email]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if conv.PairKey == "" {
		conv.PairKey = PairKey(conv.Sender, conv.Receiver)
	}
	if _, ok := m.pairs[conv.PairKey]; ok {
		return ErrDuplicateConversation
	}
	c := *conv
	m.conversations[c.ID] = &c
	m.pairs[c.PairKey] = c.ID
	return nil
}

func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *MockStore) GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	m.mu.RLock()
	id, ok := m.pairs[PairKey(a, b)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetConversation(ctx, id)
}

func (m *MockStore) ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, c := range m.conversations {
		if c.Sender == identity || c.Receiver == identity {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeq != out[j].LastSeq {
			return out[i].LastSeq > out[j].LastSeq
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	m.seq++
	msg.Seq = m.seq
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	c.UpdatedAt = msg.CreatedAt
	c.LastSeq = m.seq
	return nil
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	cp := *msgs[len(msgs)-1]
	return &cp, nil
}

func (m *MockStore) CountUnseen(ctx context.Context, conversationID, authorID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msg := range m.messages[conversationID] {
		if msg.AuthorID == authorID && !msg.Seen {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.AuthorID == authorID && !msg.Seen {
			msg.Seen = true
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return errors.Join(errors.New("mock store unavailable"), m.Fail)
	}
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

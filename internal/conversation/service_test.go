// ABOUTME: Tests for the conversation gateway
// ABOUTME: Verifies pair uniqueness under races, append order, seen semantics and summary ordering

package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatline/internal/pairlock"
	"github.com/2389/chatline/internal/presence"
	"github.com/2389/chatline/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addUser(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &store.User{
		ID:         id,
		Name:       "User " + id,
		Email:      id + "@example.com",
		ProfilePic: id + ".png",
		CreatedAt:  time.Now(),
	}))
}

func newTestService(t *testing.T, s store.Store) (*Service, *presence.Registry) {
	t.Helper()
	reg := presence.New(nil)
	svc := New(Config{Store: s, Presence: reg, Locker: pairlock.NewMemoryLocker()})
	return svc, reg
}

func text(author, body string) *store.Message {
	return &store.Message{AuthorID: author, Text: body}
}

// blindStore reports every pair as absent for the first misses lookups, so
// callers race to insert the same pair.
type blindStore struct {
	store.Store
	misses atomic.Int32
}

func (b *blindStore) GetConversationByPair(ctx context.Context, a, c string) (*store.Conversation, error) {
	if b.misses.Add(-1) >= 0 {
		return nil, store.ErrNotFound
	}
	return b.Store.GetConversationByPair(ctx, a, c)
}

type brokenLocker struct{}

func (brokenLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, errors.New("lock service down")
}

func TestService_ResolveOrCreate_SameForBothOrders(t *testing.T) {
	svc, _ := newTestService(t, createTestStore(t))
	ctx := context.Background()

	ab, err := svc.ResolveOrCreate(ctx, "a", "b")
	require.NoError(t, err)
	ba, err := svc.ResolveOrCreate(ctx, "b", "a")
	require.NoError(t, err)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, "a", ba.Sender, "first creator is recorded as sender")
}

func TestService_ResolveOrCreate_EmptyParticipant(t *testing.T) {
	svc, _ := newTestService(t, store.NewMockStore())
	_, err := svc.ResolveOrCreate(context.Background(), "", "b")
	assert.ErrorIs(t, err, ErrInvalidParticipant)
}

func TestService_ResolveOrCreate_DuplicateInsertRefetches(t *testing.T) {
	mock := store.NewMockStore()
	blind := &blindStore{Store: mock}
	// Without a locker both callers miss and both insert
	svc := New(Config{Store: blind, Presence: presence.New(nil)})
	ctx := context.Background()

	first, err := svc.ResolveOrCreate(ctx, "a", "b")
	require.NoError(t, err)

	blind.misses.Store(1)
	second, err := svc.ResolveOrCreate(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	convs, err := mock.ListConversationsFor(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestService_ResolveOrCreate_LockFailureFallsBackToStore(t *testing.T) {
	s := createTestStore(t)
	svc := New(Config{Store: s, Presence: presence.New(nil), Locker: brokenLocker{}})

	conv, err := svc.ResolveOrCreate(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
}

func TestService_ConcurrentSendBothDirections(t *testing.T) {
	for _, tc := range []struct {
		name   string
		locker pairlock.Locker
	}{
		{name: "with lock", locker: pairlock.NewMemoryLocker()},
		{name: "store constraint only", locker: nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := createTestStore(t)
			svc := New(Config{Store: s, Presence: presence.New(nil), Locker: tc.locker})
			ctx := context.Background()

			var wg sync.WaitGroup
			for i, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
				wg.Add(1)
				go func(i int, sender, receiver string) {
					defer wg.Done()
					conv, err := svc.ResolveOrCreate(ctx, sender, receiver)
					if !assert.NoError(t, err) {
						return
					}
					_, err = svc.AppendMessage(ctx, conv.ID, text(sender, fmt.Sprintf("msg %d", i)))
					assert.NoError(t, err)
				}(i, pair[0], pair[1])
			}
			wg.Wait()

			convs, err := s.ListConversationsFor(ctx, "a")
			require.NoError(t, err)
			require.Len(t, convs, 1)

			msgs, err := s.ListMessages(ctx, convs[0].ID)
			require.NoError(t, err)
			assert.Len(t, msgs, 2)
		})
	}
}

func TestService_AppendMessage(t *testing.T) {
	svc, _ := newTestService(t, createTestStore(t))
	ctx := context.Background()
	conv, err := svc.ResolveOrCreate(ctx, "a", "b")
	require.NoError(t, err)

	msg, err := svc.AppendMessage(ctx, conv.ID, text("a", "hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, conv.ID, msg.ConversationID)

	_, err = svc.AppendMessage(ctx, conv.ID, text("b", "hello"))
	require.NoError(t, err)

	msgs, err := svc.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Equal(t, "b", msgs[1].AuthorID)
}

func TestService_AppendMessage_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, store.NewMockStore())
	_, err := svc.AppendMessage(context.Background(), "missing", text("a", "hi"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_AppendMessage_StoreFailure(t *testing.T) {
	mock := store.NewMockStore()
	svc, _ := newTestService(t, mock)
	ctx := context.Background()
	conv, err := svc.ResolveOrCreate(ctx, "a", "b")
	require.NoError(t, err)

	boom := errors.New("disk full")
	mock.SetFail(boom)
	_, err = svc.AppendMessage(ctx, conv.ID, text("a", "hi"))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestService_MarkSeen_OnlyPeerMessages(t *testing.T) {
	svc, _ := newTestService(t, createTestStore(t))
	ctx := context.Background()
	conv, err := svc.ResolveOrCreate(ctx, "viewer", "peer")
	require.NoError(t, err)

	for _, m := range []*store.Message{text("peer", "p1"), text("viewer", "v1"), text("peer", "p2")} {
		_, err := svc.AppendMessage(ctx, conv.ID, m)
		require.NoError(t, err)
	}

	n, err := svc.MarkSeen(ctx, conv.ID, "peer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := svc.Messages(ctx, conv.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, m.AuthorID == "peer", m.Seen, m.Text)
	}

	n, err = svc.MarkSeen(ctx, conv.ID, "peer")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestService_SummariesFor(t *testing.T) {
	s := createTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		addUser(t, s, id)
	}
	svc, reg := newTestService(t, s)
	ctx := context.Background()
	reg.Join("c")

	ab, err := svc.ResolveOrCreate(ctx, "a", "b")
	require.NoError(t, err)
	ac, err := svc.ResolveOrCreate(ctx, "c", "a")
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, ab.ID, text("b", "from b"))
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, ac.ID, text("c", "from c 1"))
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, ac.ID, text("c", "from c 2"))
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, ac.ID, text("a", "reply"))
	require.NoError(t, err)

	sums, err := svc.SummariesFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, ac.ID, sums[0].ID)
	assert.Equal(t, "c", sums[0].Peer.ID)
	assert.Equal(t, "User c", sums[0].Peer.Name)
	assert.True(t, sums[0].Peer.Online)
	assert.Equal(t, 2, sums[0].UnseenMsg)
	require.NotNil(t, sums[0].LastMsg)
	assert.Equal(t, "reply", sums[0].LastMsg.Text)

	assert.Equal(t, ab.ID, sums[1].ID)
	assert.False(t, sums[1].Peer.Online)
	assert.Equal(t, 1, sums[1].UnseenMsg)

	// Appending to the oldest conversation moves it to the front
	_, err = svc.AppendMessage(ctx, ab.ID, text("a", "bump"))
	require.NoError(t, err)
	sums, err = svc.SummariesFor(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ab.ID, sums[0].ID)
}

func TestService_SummariesFor_EmptyConversationAndMissingPeer(t *testing.T) {
	s := store.NewMockStore()
	addUser(t, s, "a")
	svc, _ := newTestService(t, s)
	ctx := context.Background()

	_, err := svc.ResolveOrCreate(ctx, "a", "ghost")
	require.NoError(t, err)

	sums, err := svc.SummariesFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, "ghost", sums[0].Peer.ID)
	assert.Empty(t, sums[0].Peer.Name)
	assert.Nil(t, sums[0].LastMsg)
	assert.Zero(t, sums[0].UnseenMsg)
}

func TestService_SummariesFor_NoConversations(t *testing.T) {
	svc, _ := newTestService(t, store.NewMockStore())
	sums, err := svc.SummariesFor(context.Background(), "loner")
	require.NoError(t, err)
	assert.NotNil(t, sums)
	assert.Empty(t, sums)
}

func TestService_Profile(t *testing.T) {
	s := store.NewMockStore()
	addUser(t, s, "b")
	svc, reg := newTestService(t, s)
	ctx := context.Background()

	p, err := svc.Profile(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", p.Email)
	assert.False(t, p.Online)

	reg.Join("b")
	p, err = svc.Profile(ctx, "b")
	require.NoError(t, err)
	assert.True(t, p.Online)

	_, err = svc.Profile(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_History(t *testing.T) {
	svc, _ := newTestService(t, store.NewMockStore())
	ctx := context.Background()

	msgs, err := svc.History(ctx, "a", "b")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	conv, err := svc.ResolveOrCreate(ctx, "a", "b")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, conv.ID, text("a", "hi"))
	require.NoError(t, err)

	msgs, err = svc.History(ctx, "b", "a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

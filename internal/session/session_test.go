// ABOUTME: Tests for session binding, replacement and every event handler
// ABOUTME: Wires the real hub, presence registry and conversation service over the mock store

package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatline/internal/auth"
	"github.com/2389/chatline/internal/conversation"
	"github.com/2389/chatline/internal/dedupe"
	"github.com/2389/chatline/internal/presence"
	"github.com/2389/chatline/internal/realtime"
	"github.com/2389/chatline/internal/store"
)

type fakeConn struct {
	id string

	mu        sync.Mutex
	frames    []realtime.Envelope
	closed    bool
	closeCode int
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(payload []byte) error {
	env, err := realtime.Decode(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return realtime.ErrConnectionClosed
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
	}
}

func (f *fakeConn) events() []realtime.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Envelope(nil), f.frames...)
}

func (f *fakeConn) names() []string {
	var out []string
	for _, e := range f.events() {
		out = append(out, e.Event)
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// last decodes the data of the most recent event named event into v
func (f *fakeConn) last(t *testing.T, event string, v any) {
	t.Helper()
	evs := f.events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Event == event {
			require.NoError(t, json.Unmarshal(evs[i].Data, v))
			return
		}
	}
	t.Fatalf("no %q event among %v", event, f.names())
}

type recordingObserver struct {
	mu      sync.Mutex
	handled []string
	dropped []ErrorKind
}

func (o *recordingObserver) Handled(event, identity string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handled = append(o.handled, event)
}

func (o *recordingObserver) Dropped(event, identity string, kind ErrorKind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, kind)
}

func (o *recordingObserver) lastDrop() ErrorKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.dropped) == 0 {
		return KindNone
	}
	return o.dropped[len(o.dropped)-1]
}

type harness struct {
	router   *Router
	hub      *realtime.Hub
	presence *presence.Registry
	store    *store.MockStore
	verifier *auth.JWTVerifier
	observer *recordingObserver
	dedupe   *dedupe.Cache
	nextConn int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	verifier, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	st := store.NewMockStore()
	reg := presence.New(nil)
	hub := realtime.NewHub(nil)
	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)
	obs := &recordingObserver{}

	router := NewRouter(Config{
		Gate:          auth.NewGate(verifier, st, nil),
		Presence:      reg,
		Conversations: conversation.New(conversation.Config{Store: st, Presence: reg}),
		Hub:           hub,
		Dedupe:        cache,
		Observer:      obs,
	})

	h := &harness{router: router, hub: hub, presence: reg, store: st, verifier: verifier, observer: obs, dedupe: cache}
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, st.CreateUser(context.Background(), &store.User{
			ID: id, Name: id, Email: id + "@example.com", CreatedAt: time.Now(),
		}))
	}
	return h
}

func (h *harness) conn() *fakeConn {
	h.nextConn++
	return &fakeConn{id: "conn-" + string(rune('0'+h.nextConn))}
}

func (h *harness) open(t *testing.T, identity string) (*Session, *fakeConn) {
	t.Helper()
	token, err := h.verifier.Generate(identity, time.Hour)
	require.NoError(t, err)
	c := h.conn()
	s, err := h.router.Open(context.Background(), token, c)
	require.NoError(t, err)
	return s, c
}

func send(t *testing.T, s *Session, event string, data any) error {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return s.Handle(context.Background(), realtime.Envelope{Event: event, Data: raw})
}

func TestOpen_RejectsMissingAndInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	_, bobConn := h.open(t, "bob")
	bobConn.reset()

	for _, token := range []string{"", "garbage"} {
		c := h.conn()
		s, err := h.router.Open(context.Background(), token, c)
		require.Error(t, err)
		assert.True(t, auth.IsAuthError(err))
		assert.Nil(t, s)
		assert.True(t, c.closed)
		assert.Equal(t, realtime.ClosePolicyViolation, c.closeCode)
	}

	assert.Equal(t, []string{"bob"}, h.presence.Snapshot())
	assert.Empty(t, bobConn.events(), "failed auth must not broadcast")
	assert.Equal(t, KindAuth, h.observer.lastDrop())
}

func TestOpen_UnknownUser(t *testing.T) {
	h := newHarness(t)
	token, err := h.verifier.Generate("mallory", time.Hour)
	require.NoError(t, err)

	c := h.conn()
	_, err = h.router.Open(context.Background(), token, c)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	assert.False(t, h.presence.IsOnline("mallory"))
}

func TestOpen_BindsAndBroadcastsOnlineSet(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	assert.Equal(t, StateBound, alice.State())
	assert.Equal(t, "alice", alice.Identity())

	_, bobConn := h.open(t, "bob")

	var online []string
	aliceConn.last(t, EventOnlineUser, &online)
	assert.Equal(t, []string{"alice", "bob"}, online)
	bobConn.last(t, EventOnlineUser, &online)
	assert.Equal(t, []string{"alice", "bob"}, online)
}

func TestClose_LeavesPresenceAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.open(t, "alice")
	_, bobConn := h.open(t, "bob")

	alice.Close()
	alice.Close()
	assert.Equal(t, StateClosed, alice.State())
	assert.False(t, h.presence.IsOnline("alice"))

	var online []string
	bobConn.last(t, EventOnlineUser, &online)
	assert.Equal(t, []string{"bob"}, online)

	err := send(t, alice, EventSidebar, "alice")
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestReplacement_KeepsIdentityOnline(t *testing.T) {
	h := newHarness(t)
	first, firstConn := h.open(t, "alice")
	second, secondConn := h.open(t, "alice")

	assert.True(t, firstConn.closed)
	assert.Equal(t, realtime.CloseSessionReplaced, firstConn.closeCode)

	// The replaced session tears down after its successor bound
	first.Close()
	assert.True(t, h.presence.IsOnline("alice"))

	member, ok := h.hub.Member("alice")
	require.True(t, ok)
	assert.Equal(t, secondConn.ID(), member.ID())

	require.NoError(t, send(t, second, EventSidebar, nil))
	assert.Contains(t, secondConn.names(), EventConversation)
}

func TestRun_ProcessesFramesInOrderThenCloses(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	h.open(t, "bob")
	aliceConn.reset()

	frames := make(chan []byte, 4)
	frames <- []byte(`{"event":"new message","data":{"receiver":"bob","text":"one"}}`)
	frames <- []byte(`not json`)
	frames <- []byte(`{"event":"new message","data":{"receiver":"bob","text":"two"}}`)
	close(frames)

	alice.Run(context.Background(), frames)
	assert.Equal(t, StateClosed, alice.State())
	assert.False(t, h.presence.IsOnline("alice"))

	var msgs []conversation.MessageView
	aliceConn.last(t, EventMessage, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
}

func TestHandleFrame_NotBound(t *testing.T) {
	h := newHarness(t)
	s := newSession(h.router, h.conn())
	err := s.HandleFrame(context.Background(), []byte(`{"event":"sidebar"}`))
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestHandle_UnknownEventKeepsSession(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	err := send(t, alice, "typing", "bob")
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Equal(t, KindInvalid, h.observer.lastDrop())
	assert.Equal(t, StateBound, alice.State())
	assert.Empty(t, aliceConn.events())
}

func TestNewMessage_FirstContact(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	_, bobConn := h.open(t, "bob")
	aliceConn.reset()
	bobConn.reset()

	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{
		"sender": "alice", "receiver": "bob", "text": "hi", "msgByUserId": "alice",
	}))

	assert.Equal(t, []string{EventMessage, EventConversation}, aliceConn.names())
	assert.Equal(t, []string{EventMessage, EventConversation}, bobConn.names())

	var msgs []conversation.MessageView
	bobConn.last(t, EventMessage, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].AuthorID)
	assert.False(t, msgs[0].Seen)

	var aliceList, bobList []conversation.Summary
	aliceConn.last(t, EventConversation, &aliceList)
	bobConn.last(t, EventConversation, &bobList)
	require.Len(t, aliceList, 1)
	require.Len(t, bobList, 1)
	assert.Equal(t, "bob", aliceList[0].Peer.ID)
	assert.True(t, aliceList[0].Peer.Online)
	assert.Equal(t, 0, aliceList[0].UnseenMsg)
	assert.Equal(t, "alice", bobList[0].Peer.ID)
	assert.Equal(t, 1, bobList[0].UnseenMsg)
	require.NotNil(t, bobList[0].LastMsg)
	assert.Equal(t, "hi", bobList[0].LastMsg.Text)
}

func TestNewMessage_OfflineReceiver(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "carol", "text": "ping"}))
	assert.Equal(t, []string{EventMessage, EventConversation}, aliceConn.names())

	var list []conversation.Summary
	aliceConn.last(t, EventConversation, &list)
	require.Len(t, list, 1)
	assert.False(t, list[0].Peer.Online)

	// Carol catches up by listing on connect
	carol, carolConn := h.open(t, "carol")
	require.NoError(t, send(t, carol, EventSidebar, "carol"))
	carolConn.last(t, EventConversation, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnseenMsg)
}

func TestNewMessage_BothDirectionsShareConversation(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.open(t, "alice")
	bob, bobConn := h.open(t, "bob")

	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "bob", "text": "a"}))
	require.NoError(t, send(t, bob, EventNewMessage, map[string]string{"receiver": "alice", "text": "b"}))

	convs, err := h.store.ListConversationsFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	var msgs []conversation.MessageView
	bobConn.last(t, EventMessage, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, "b", msgs[1].Text)
}

func TestNewMessage_SelfAddressedEmitsOnce(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "alice", "text": "note"}))
	assert.Equal(t, []string{EventMessage, EventConversation}, aliceConn.names())
}

func TestNewMessage_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		wantErr error
		kind    ErrorKind
	}{
		{"impersonated sender", map[string]string{"sender": "bob", "receiver": "carol", "text": "x"}, ErrIdentityMismatch, KindInvalid},
		{"impersonated author", map[string]string{"receiver": "bob", "text": "x", "msgByUserId": "bob"}, ErrIdentityMismatch, KindInvalid},
		{"missing receiver", map[string]string{"text": "x"}, ErrBadPayload, KindInvalid},
		{"empty content", map[string]string{"receiver": "bob"}, ErrEmptyMessage, KindInvalid},
		{"unknown receiver", map[string]string{"receiver": "nobody", "text": "x"}, store.ErrNotFound, KindNotFound},
		{"not an object", "hello", ErrBadPayload, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			alice, aliceConn := h.open(t, "alice")
			aliceConn.reset()

			err := send(t, alice, EventNewMessage, tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.kind, h.observer.lastDrop())
			assert.Empty(t, aliceConn.events())

			convs, err := h.store.ListConversationsFor(context.Background(), "alice")
			require.NoError(t, err)
			assert.Empty(t, convs)
		})
	}
}

func TestNewMessage_MediaOnly(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")

	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "bob", "imageUrl": "https://img/x.png"}))
	var msgs []conversation.MessageView
	aliceConn.last(t, EventMessage, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://img/x.png", msgs[0].ImageURL)
	assert.Empty(t, msgs[0].Text)
}

func TestNewMessage_DuplicateClientID(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.open(t, "alice")

	payload := map[string]string{"receiver": "bob", "text": "once", "clientMsgId": "m-1"}
	require.NoError(t, send(t, alice, EventNewMessage, payload))
	err := send(t, alice, EventNewMessage, payload)
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	conv, err := h.store.GetConversationByPair(context.Background(), "alice", "bob")
	require.NoError(t, err)
	msgs, err := h.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestNewMessage_StoreFailureNoFanout(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	_, bobConn := h.open(t, "bob")
	aliceConn.reset()
	bobConn.reset()

	h.store.SetFail(errors.New("disk on fire"))
	payload := map[string]string{"receiver": "bob", "text": "lost", "clientMsgId": "m-9"}
	err := send(t, alice, EventNewMessage, payload)
	require.Error(t, err)
	assert.Equal(t, KindStore, h.observer.lastDrop())
	assert.Empty(t, aliceConn.events())
	assert.Empty(t, bobConn.events())
	assert.Equal(t, StateBound, alice.State())

	// The failed attempt must not poison a retry with the same client id
	h.store.SetFail(nil)
	require.NoError(t, send(t, alice, EventNewMessage, payload))
	assert.Contains(t, bobConn.names(), EventMessage)
}

func TestMessagePage_SendsProfileThenHistory(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	_, bobConn := h.open(t, "bob")
	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "bob", "text": "hello"}))
	aliceConn.reset()
	bobConn.reset()

	require.NoError(t, send(t, alice, EventMessagePage, "bob"))
	assert.Equal(t, []string{EventMessageUser, EventMessage}, aliceConn.names())
	assert.Empty(t, bobConn.events(), "history goes to the requester only")

	var profile conversation.Profile
	aliceConn.last(t, EventMessageUser, &profile)
	assert.Equal(t, "bob", profile.ID)
	assert.True(t, profile.Online)

	var msgs []conversation.MessageView
	aliceConn.last(t, EventMessage, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestMessagePage_NoHistory(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	require.NoError(t, send(t, alice, EventMessagePage, "carol"))
	var msgs []conversation.MessageView
	aliceConn.last(t, EventMessage, &msgs)
	assert.Empty(t, msgs)

	var profile conversation.Profile
	aliceConn.last(t, EventMessageUser, &profile)
	assert.False(t, profile.Online)
}

func TestMessagePage_UnknownTargetIsNoop(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	err := send(t, alice, EventMessagePage, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, KindNotFound, h.observer.lastDrop())
	assert.Empty(t, aliceConn.events())
}

func TestSidebar_RejectsOtherIdentity(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	err := send(t, alice, EventSidebar, "bob")
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Empty(t, aliceConn.events())
}

func TestSidebar_EmptyList(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	require.NoError(t, send(t, alice, EventSidebar, "alice"))
	var list []conversation.Summary
	aliceConn.last(t, EventConversation, &list)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestSeen_MarksPeerMessagesAndRefreshesBoth(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	bob, bobConn := h.open(t, "bob")

	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "bob", "text": "1"}))
	require.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "bob", "text": "2"}))
	require.NoError(t, send(t, bob, EventNewMessage, map[string]string{"receiver": "alice", "text": "3"}))
	aliceConn.reset()
	bobConn.reset()

	require.NoError(t, send(t, bob, EventSeen, "alice"))
	assert.Equal(t, []string{EventConversation}, bobConn.names())
	assert.Equal(t, []string{EventConversation}, aliceConn.names())

	var bobList, aliceList []conversation.Summary
	bobConn.last(t, EventConversation, &bobList)
	aliceConn.last(t, EventConversation, &aliceList)
	require.Len(t, bobList, 1)
	require.Len(t, aliceList, 1)
	assert.Equal(t, 0, bobList[0].UnseenMsg)
	assert.Equal(t, 1, aliceList[0].UnseenMsg, "bob's own message stays unseen by alice")

	conv, err := h.store.GetConversationByPair(context.Background(), "alice", "bob")
	require.NoError(t, err)
	msgs, err := h.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, m.AuthorID == "alice", m.Seen, "message %q", m.Text)
	}
}

func TestSeen_NoConversationIsNoop(t *testing.T) {
	h := newHarness(t)
	alice, aliceConn := h.open(t, "alice")
	aliceConn.reset()

	err := send(t, alice, EventSeen, "carol")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, aliceConn.events())
}

func TestSeen_RequiresPeer(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.open(t, "alice")
	assert.ErrorIs(t, send(t, alice, EventSeen, nil), ErrBadPayload)
	assert.ErrorIs(t, send(t, alice, EventSeen, 42), ErrBadPayload)
}

func TestHandle_SurvivesCancelledContext(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.open(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw, _ := json.Marshal(map[string]string{"receiver": "bob", "text": "in flight"})
	require.NoError(t, alice.Handle(ctx, realtime.Envelope{Event: EventNewMessage, Data: raw}))

	conv, err := h.store.GetConversationByPair(context.Background(), "alice", "bob")
	require.NoError(t, err)
	msgs, err := h.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConcurrentFirstContact_SingleConversation(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.open(t, "alice")
	bob, _ := h.open(t, "bob")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, send(t, alice, EventNewMessage, map[string]string{"receiver": "bob", "text": "a"}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, send(t, bob, EventNewMessage, map[string]string{"receiver": "alice", "text": "b"}))
		}()
	}
	wg.Wait()

	convs, err := h.store.ListConversationsFor(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := h.store.ListMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindNone, Kind(nil))
	assert.Equal(t, KindAuth, Kind(auth.ErrMissingCredential))
	assert.Equal(t, KindNotFound, Kind(store.ErrNotFound))
	assert.Equal(t, KindInvalid, Kind(ErrBadPayload))
	assert.Equal(t, KindInvalid, Kind(conversation.ErrInvalidParticipant))
	assert.Equal(t, KindStore, Kind(errors.New("boom")))
	assert.Equal(t, "not_found", KindNotFound.String())
}

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/docsync/internal/docstore"
	"github.com/cwrk-planet/docsync/internal/document"
	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	s      *Session
	doc    *document.Snapshot
	store  *fakeStore
	dialer *fakeDialer
	events <-chan Event
}

func testConfig() Config {
	return Config{
		RoomID:            "room-1",
		DisplayName:       "Alice",
		ReconnectAttempts: 3,
		ReconnectDelay:    5 * time.Millisecond,
		ReconnectMaxDelay: 20 * time.Millisecond,
		ConnectTimeout:    time.Second,
		SyncTimeout:       0,
	}
}

func start(t *testing.T, cfg Config, store *fakeStore) *harness {
	t.Helper()
	h := &harness{
		doc:    document.NewSnapshot("alice"),
		store:  store,
		dialer: newFakeDialer(),
	}
	h.s = New(cfg, h.doc, store, h.dialer, nil)
	h.events, _ = h.s.Subscribe()
	require.NoError(t, h.s.Start(context.Background()))
	t.Cleanup(h.s.Close)
	return h
}

// connect accepts both links and consumes the join frame.
func (h *harness) connect(t *testing.T) (updates, events *fakeConn) {
	t.Helper()
	updates = h.dialer.accept(t, ChannelUpdates)
	events = h.dialer.accept(t, ChannelEvents)

	env := events.nextEvent(t)
	require.Equal(t, protocol.TypeJoin, env.Type)
	var join protocol.JoinPayload
	require.NoError(t, env.Into(&join))
	assert.Equal(t, "room-1", join.RoomID)
	assert.Equal(t, "Alice", join.DisplayName)

	h.expectStateRequest(t, updates)
	h.waitState(t, ChannelUpdates, StateConnected)
	h.waitState(t, ChannelEvents, StateConnected)
	return updates, events
}

// expectStateRequest consumes the request every fresh update link opens with.
func (h *harness) expectStateRequest(t *testing.T, updates *fakeConn) {
	t.Helper()
	f := updates.next(t)
	require.True(t, f.binary)
	require.Equal(t, h.doc.SyncRequest(), f.data)
}

func (h *harness) waitState(t *testing.T, ch Channel, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.s.States()[ch] == want
	}, waitFor, tick, "%s never reached %s", ch, want)
}

// waitEvent drains events until one matches.
func (h *harness) waitEvent(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-h.events:
			require.True(t, ok, "event stream closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("expected event not observed")
			return Event{}
		}
	}
}

func peerFrame(text string) []byte {
	peer := document.NewSnapshot("peer")
	return peer.Edit(text)
}

func TestSession_InjectsOnlyAfterSync(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{doc: docstore.Document{Title: "Notes", Content: "Hello"}})
	updates, _ := h.connect(t)

	require.Eventually(t, func() bool { return h.s.Title() == "Notes" }, waitFor, tick)

	// fetched but not synced: nothing happens
	updates.expectSilence(t, 50*time.Millisecond)
	assert.True(t, h.doc.Empty())

	h.s.MarkSynced()

	f := updates.next(t)
	require.True(t, f.binary)
	peer := document.NewSnapshot("peer")
	require.NoError(t, peer.ApplyUpdate(f.data))
	assert.Equal(t, "Hello", peer.Content())
	assert.Equal(t, "Hello", h.doc.Content())

	synced, injected := h.s.Reconciliation()
	assert.True(t, synced)
	assert.True(t, injected)

	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventReconciled })
	assert.True(t, ev.Injected)

	// a second sync signal does not inject again
	h.s.MarkSynced()
	updates.expectSilence(t, 50*time.Millisecond)
}

func TestSession_LiveContentWins(t *testing.T) {
	gate := make(chan struct{})
	h := start(t, testConfig(), &fakeStore{doc: docstore.Document{Content: "Hello"}, gate: gate})
	updates, _ := h.connect(t)

	updates.push(true, peerFrame("World"))
	require.Eventually(t, func() bool { return h.doc.Content() == "World" }, waitFor, tick)

	h.s.MarkSynced()
	close(gate)

	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventReconciled })
	assert.False(t, ev.Injected)
	assert.Equal(t, "World", h.doc.Content())
	updates.expectSilence(t, 50*time.Millisecond)
}

func TestSession_FetchAfterSyncIntoEmptyDoc(t *testing.T) {
	gate := make(chan struct{})
	h := start(t, testConfig(), &fakeStore{doc: docstore.Document{Content: "Hello"}, gate: gate})
	updates, _ := h.connect(t)

	h.s.MarkSynced()
	h.waitEvent(t, func(e Event) bool { return e.Kind == EventSynced })
	assert.True(t, h.doc.Empty())

	close(gate)
	f := updates.next(t)
	assert.True(t, f.binary)
	assert.Equal(t, "Hello", h.doc.Content())
}

func TestSession_NeverSyncedNeverInjects(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{doc: docstore.Document{Content: "Hello"}})
	updates, _ := h.connect(t)

	updates.expectSilence(t, 100*time.Millisecond)
	assert.True(t, h.doc.Empty())
	synced, injected := h.s.Reconciliation()
	assert.False(t, synced)
	assert.False(t, injected)
}

func TestSession_SyncFallbackTimer(t *testing.T) {
	cfg := testConfig()
	cfg.SyncTimeout = 30 * time.Millisecond
	h := start(t, cfg, &fakeStore{doc: docstore.Document{Content: "Hello"}})
	updates, _ := h.connect(t)

	f := updates.next(t)
	assert.True(t, f.binary)
	assert.Equal(t, "Hello", h.doc.Content())
}

func TestSession_StaleSyncTimerIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.SyncTimeout = 200 * time.Millisecond
	cfg.ReconnectDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	h := start(t, cfg, &fakeStore{doc: docstore.Document{Content: "Hello"}})
	updates, _ := h.connect(t)

	// drop before the timer fires; the reconnect is an hour away
	updates.drop()
	h.waitState(t, ChannelUpdates, StateReconnecting)

	time.Sleep(350 * time.Millisecond)
	synced, injected := h.s.Reconciliation()
	assert.False(t, synced)
	assert.False(t, injected)
	assert.True(t, h.doc.Empty())
}

func TestSession_NoInjectionWhileUpdateLinkDown(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectAttempts = 1
	gate := make(chan struct{})
	store := &fakeStore{doc: docstore.Document{Title: "Notes", Content: "Hello"}, gate: gate}
	h := start(t, cfg, store)
	updates, _ := h.connect(t)

	h.s.MarkSynced()
	h.waitEvent(t, func(e Event) bool { return e.Kind == EventSynced })

	h.dialer.setFailing(ChannelUpdates, true)
	updates.drop()
	h.waitState(t, ChannelUpdates, StateErrored)

	// the snapshot arrives while nothing can reach peers
	close(gate)
	require.Eventually(t, func() bool { return h.s.Title() == "Notes" }, waitFor, tick)

	synced, injected := h.s.Reconciliation()
	assert.False(t, synced)
	assert.False(t, injected)
	assert.True(t, h.doc.Empty())

	// a later sync on a live link still delivers the content
	h.dialer.setFailing(ChannelUpdates, false)
	require.NoError(t, h.s.Retry())
	updates2, _ := h.connect(t)

	h.s.MarkSynced()
	f := updates2.next(t)
	require.True(t, f.binary)
	peer := document.NewSnapshot("peer")
	require.NoError(t, peer.ApplyUpdate(f.data))
	assert.Equal(t, "Hello", peer.Content())
}

func TestSession_PeerStateCompletesSync(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{doc: docstore.Document{Content: "Hello"}})
	updates, _ := h.connect(t)

	peer := document.NewSnapshot("a")
	peer.Edit("World")
	res, err := peer.Receive(h.doc.SyncRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Reply)
	updates.push(true, res.Reply)

	h.waitEvent(t, func(e Event) bool { return e.Kind == EventSynced })
	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventReconciled })
	assert.False(t, ev.Injected)
	assert.Equal(t, "World", h.doc.Content())
	updates.expectSilence(t, 50*time.Millisecond)
}

func TestSession_AnswersStateRequest(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{err: domain.ErrDocumentNotFound})
	updates, _ := h.connect(t)

	require.NoError(t, h.s.SendUpdate(h.doc.Edit("mine")))
	_ = updates.next(t)

	joiner := document.NewSnapshot("z")
	updates.push(true, joiner.SyncRequest())

	f := updates.next(t)
	require.True(t, f.binary)
	res, err := joiner.Receive(f.data)
	require.NoError(t, err)
	assert.True(t, res.Synced)
	assert.Equal(t, "mine", joiner.Content())
}

func TestSession_ReconnectResetsSyncCycle(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{doc: docstore.Document{Content: "Hello"}})
	updates, _ := h.connect(t)

	h.s.MarkSynced()
	_ = updates.next(t) // injected frame

	updates.drop()
	updates2 := h.dialer.accept(t, ChannelUpdates)
	h.expectStateRequest(t, updates2)
	h.waitState(t, ChannelUpdates, StateConnected)

	synced, injected := h.s.Reconciliation()
	assert.False(t, synced)
	assert.False(t, injected)

	// the document already holds the content: nothing is injected twice
	h.s.MarkSynced()
	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventReconciled && !e.Injected })
	assert.False(t, ev.Injected)
	updates2.expectSilence(t, 50*time.Millisecond)
	assert.Equal(t, "Hello", h.doc.Content())
}

func TestSession_ReconnectRejoins(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{err: domain.ErrDocumentNotFound})
	_, events := h.connect(t)

	events.drop()

	ev := h.waitEvent(t, func(e Event) bool {
		return e.Kind == EventState && e.Channel == ChannelEvents && e.State == StateReconnecting
	})
	assert.Equal(t, 1, ev.Attempt)
	assert.ErrorIs(t, ev.Err, ErrDisconnectedRetrying)

	events2 := h.dialer.accept(t, ChannelEvents)
	env := events2.nextEvent(t)
	assert.Equal(t, protocol.TypeJoin, env.Type)
	h.waitState(t, ChannelEvents, StateConnected)
}

func TestSession_RetriesExhaustedThenRetry(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectAttempts = 2
	store := &fakeStore{doc: docstore.Document{Content: "x"}}
	h := &harness{doc: document.NewSnapshot("a"), store: store, dialer: newFakeDialer()}
	h.dialer.setFailing(ChannelUpdates, true)
	h.s = New(cfg, h.doc, store, h.dialer, nil)
	h.events, _ = h.s.Subscribe()
	require.NoError(t, h.s.Start(context.Background()))
	t.Cleanup(h.s.Close)

	ev := h.waitEvent(t, func(e Event) bool {
		return e.Kind == EventState && e.Channel == ChannelUpdates && e.State == StateErrored
	})
	assert.ErrorIs(t, ev.Err, ErrConnectionFailed)
	assert.Equal(t, StateErrored, h.s.State())
	// first dial plus two retries
	assert.Equal(t, 3, h.dialer.dialCount(ChannelUpdates))

	h.dialer.setFailing(ChannelUpdates, false)
	require.NoError(t, h.s.Retry())

	h.dialer.accept(t, ChannelUpdates)
	h.waitState(t, ChannelUpdates, StateConnected)
	require.Eventually(t, func() bool { return store.fetchCount() == 2 }, waitFor, tick)
}

func TestSession_RetryRequiresErrored(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	h.connect(t)
	assert.ErrorIs(t, h.s.Retry(), ErrNotErrored)
}

func TestSession_CleanCloseDoesNotReconnect(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	_, events := h.connect(t)

	events.closeClean()
	h.waitState(t, ChannelEvents, StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dialCount(ChannelEvents))
}

func TestSession_Leave(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	updates, events := h.connect(t)

	require.NoError(t, h.s.Leave())

	env := events.nextEvent(t)
	require.Equal(t, protocol.TypeLeave, env.Type)
	var p protocol.LeavePayload
	require.NoError(t, env.Into(&p))
	assert.Equal(t, "room-1", p.RoomID)

	for _, c := range []*fakeConn{updates, events} {
		closed, byUs, clean := c.closedState()
		assert.True(t, closed)
		assert.True(t, byUs)
		assert.True(t, clean)
	}

	select {
	case <-h.s.Done():
	default:
		t.Fatal("session still running after Leave")
	}

	// event stream ends
	for range h.events {
	}

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dialCount(ChannelUpdates))
	assert.Equal(t, 1, h.dialer.dialCount(ChannelEvents))

	assert.NoError(t, h.s.Leave())
	_, err := h.s.SendChat("late")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSession_LeaveCancelsPendingReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	h := start(t, cfg, &fakeStore{})
	updates, _ := h.connect(t)

	updates.drop()
	h.waitState(t, ChannelUpdates, StateReconnecting)

	done := make(chan struct{})
	go func() {
		_ = h.s.Leave()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Leave blocked on pending reconnect")
	}
	assert.Equal(t, 1, h.dialer.dialCount(ChannelUpdates))
}

func TestSession_ChatEchoIsDeduplicated(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	_, events := h.connect(t)

	msg, err := h.s.SendChat("  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)
	assert.NotEmpty(t, msg.ID)

	env := events.nextEvent(t)
	require.Equal(t, protocol.TypeMessage, env.Type)
	var p protocol.MessagePayload
	require.NoError(t, env.Into(&p))
	assert.Equal(t, msg.ID, p.ID)
	assert.Equal(t, "Alice", p.AuthorDisplayName)

	// relay echo
	events.push(false, protocol.MustEncode(protocol.TypeMessage, p))

	// a peer message without id, then its duplicate within the window
	peer := protocol.MessagePayload{Text: "yo", AuthorDisplayName: "Bob", Timestamp: time.Now().UnixMilli()}
	events.pushEvent(protocol.TypeMessage, peer)
	peer.Timestamp += 300
	events.pushEvent(protocol.TypeMessage, peer)

	require.Eventually(t, func() bool { return len(h.s.Messages()) == 2 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	msgs := h.s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, "yo", msgs[1].Text)
}

func TestSession_ChatRejectsEmpty(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	h.connect(t)

	_, err := h.s.SendChat("   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Empty(t, h.s.Messages())
}

func TestSession_ChatWhileDisconnectedKeepsLocalCopy(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	h := start(t, cfg, &fakeStore{})
	_, events := h.connect(t)

	events.drop()
	h.waitState(t, ChannelEvents, StateReconnecting)

	_, err := h.s.SendChat("offline")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Len(t, h.s.Messages(), 1)
}

func TestSession_Presence(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	_, events := h.connect(t)

	ts := time.Now().UnixMilli()
	events.pushEvent(protocol.TypeExistingMembers, []protocol.PresenceItem{
		{ConnectionID: "c-a", DisplayName: "A", Timestamp: ts},
	})
	events.pushEvent(protocol.TypeMemberJoined, protocol.MemberJoinedPayload{ConnectionID: "c-b", DisplayName: "B", Timestamp: ts + 1})
	// duplicate announcement is ignored
	events.pushEvent(protocol.TypeMemberJoined, protocol.MemberJoinedPayload{ConnectionID: "c-b", DisplayName: "B", Timestamp: ts + 1})
	events.pushEvent(protocol.TypeMemberLeft, protocol.MemberLeftPayload{ConnectionID: "c-a", Timestamp: ts + 2})

	require.Eventually(t, func() bool {
		m := h.s.Members()
		return len(m) == 1 && m[0].ConnectionID == "c-b"
	}, waitFor, tick)

	events.pushEvent(protocol.TypeCursor, protocol.CursorPayload{RoomID: "room-1", ConnectionID: "c-b", Position: 4, Selection: protocol.Selection{Start: 1, End: 4}})
	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventCursor })
	assert.Equal(t, Cursor{ConnectionID: "c-b", Position: 4, Start: 1, End: 4}, ev.Cursor)

	// presence is cleared while the event link is down
	events.drop()
	require.Eventually(t, func() bool { return len(h.s.Members()) == 0 }, waitFor, tick)
}

func TestSession_ServerErrorSurfaces(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	_, events := h.connect(t)

	events.pushEvent(protocol.TypeError, protocol.ErrorPayload{Code: protocol.CodeNotMember, Message: "not a member", Ref: protocol.TypeCursor})

	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventError })
	var se *ServerError
	require.True(t, errors.As(ev.Err, &se))
	assert.Equal(t, protocol.CodeNotMember, se.Code)
}

func TestSession_LoadFailureSurfaces(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{err: errors.New("boom")})
	h.connect(t)

	ev := h.waitEvent(t, func(e Event) bool { return e.Kind == EventError })
	assert.ErrorIs(t, ev.Err, ErrLoadFailed)

	h.s.MarkSynced()
	time.Sleep(30 * time.Millisecond)
	_, injected := h.s.Reconciliation()
	assert.False(t, injected)
}

func TestSession_Save(t *testing.T) {
	store := &fakeStore{err: domain.ErrDocumentNotFound}
	h := start(t, testConfig(), store)
	updates, _ := h.connect(t)

	updates.push(true, peerFrame("draft"))
	require.Eventually(t, func() bool { return h.doc.Content() == "draft" }, waitFor, tick)

	require.NoError(t, h.s.Save(context.Background()))
	assert.Equal(t, "draft", store.saved["room-1"])

	store.mu.Lock()
	store.saveErr = errors.New("denied")
	store.mu.Unlock()
	err := h.s.Save(context.Background())
	assert.ErrorIs(t, err, ErrSaveFailed)
}

func TestSession_SendUpdate(t *testing.T) {
	h := start(t, testConfig(), &fakeStore{})
	updates, _ := h.connect(t)

	frame := h.doc.Edit("local")
	require.NoError(t, h.s.SendUpdate(frame))

	f := updates.next(t)
	assert.True(t, f.binary)
	assert.Equal(t, frame, f.data)
}

func TestSession_NotStarted(t *testing.T) {
	s := New(testConfig(), document.NewSnapshot("a"), &fakeStore{}, newFakeDialer(), nil)
	assert.ErrorIs(t, s.SendUpdate([]byte{1}), ErrNotStarted)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "unknown", State(42).String())
}

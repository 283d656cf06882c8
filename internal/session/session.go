// Package session is the client side of a collaborative room: it keeps the
// update and event links alive, tracks presence and chat, and reconciles the
// persisted document snapshot with the live replicated document.
//
// All session state is owned by one actor goroutine. Links, timers, fetches and
// public methods communicate with it only through the mailbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/docsync/internal/chatlog"
	"github.com/cwrk-planet/docsync/internal/docstore"
	"github.com/cwrk-planet/docsync/internal/document"
	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/protocol"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

const (
	mailboxSize      = 256
	subscriberBuffer = 128
)

type Session struct {
	cfg    Config
	doc    document.Document
	store  docstore.Store
	dialer Dialer
	log    *slog.Logger
	now    func() time.Time

	chat *chatlog.Log
	hub  *hub

	mailbox chan func()
	done    chan struct{}
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	// everything below is touched by the actor goroutine only
	epoch       uint64
	linkCancel  context.CancelFunc
	linkWG      sync.WaitGroup
	links       map[Channel]*link
	states      map[Channel]State
	stopped     bool
	updatesOpen bool // update link connected at least once in this epoch

	synced    bool
	injected  bool
	pending   *string
	title     string
	syncTimer *time.Timer
	syncGen   uint64

	members map[domain.ConnectionID]domain.PresenceEntry
}

func New(cfg Config, doc document.Document, store docstore.Store, dialer Dialer, l *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	if l == nil {
		l = logger.L()
	}
	return &Session{
		cfg:     cfg,
		doc:     doc,
		store:   store,
		dialer:  dialer,
		log:     l.With(logger.Room(string(cfg.RoomID))),
		now:     time.Now,
		chat:    chatlog.New(cfg.DedupWindow),
		hub:     newHub(),
		mailbox: make(chan func(), mailboxSize),
		done:    make(chan struct{}),
		states: map[Channel]State{
			ChannelUpdates: StateIdle,
			ChannelEvents:  StateIdle,
		},
		members: make(map[domain.ConnectionID]domain.PresenceEntry),
	}
}

// Start connects both links and fetches the persisted snapshot. Cancelling ctx
// stops the session without sending leave.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.loop()
	return s.do(s.startEpoch)
}

// Subscribe returns a stream of session events and a function to stop receiving them.
// The channel is closed when the session stops.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.hub.subscribe(subscriberBuffer)
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop() {
	defer func() {
		s.hub.close()
		close(s.done)
	}()

	for {
		select {
		case fn := <-s.mailbox:
			fn()
			if s.stopped {
				return
			}
		case <-s.ctx.Done():
			s.stop()
			return
		}
	}
}

// post hands fn to the actor; it is dropped once the session has stopped.
func (s *Session) post(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

// postCtx is post for producers that also stop with ctx.
func (s *Session) postCtx(ctx context.Context, fn func()) {
	select {
	case s.mailbox <- fn:
	case <-ctx.Done():
	case <-s.done:
	}
}

// do runs fn on the actor and waits for it.
func (s *Session) do(fn func()) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	finished := make(chan struct{})
	select {
	case s.mailbox <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// --- public operations ---

// MarkSynced reports that initial sync with peers completed by means outside the
// update link. Peer state frames received on the link mark the session synced on their own.
func (s *Session) MarkSynced() {
	if !s.started.Load() {
		return
	}
	s.post(func() { s.markSynced("provider") })
}

// SendUpdate sends a local document update frame to peers.
func (s *Session) SendUpdate(frame []byte) error {
	var err error
	if derr := s.do(func() { err = s.sendOn(ChannelUpdates, true, frame) }); derr != nil {
		return derr
	}
	return err
}

// SendChat appends the message locally and sends it to the room. The local copy
// stays even when sending fails; the server echo is deduplicated by id.
func (s *Session) SendChat(text string) (domain.ChatMessage, error) {
	msg, err := domain.ChatMessage{
		ID:                uuid.NewString(),
		Text:              text,
		AuthorDisplayName: s.cfg.DisplayName,
		Timestamp:         s.now(),
	}.Normalize()
	if err != nil {
		return msg, err
	}

	var sendErr error
	derr := s.do(func() {
		if s.chat.Add(msg) {
			s.emit(Event{Kind: EventChat, Message: msg})
		}
		frame := protocol.MustEncode(protocol.TypeMessage, protocol.MessageFromDomain(s.cfg.RoomID, msg))
		sendErr = s.sendOn(ChannelEvents, false, frame)
	})
	if derr != nil {
		return msg, derr
	}
	return msg, sendErr
}

func (s *Session) SendCursor(position, start, end int) error {
	frame := protocol.MustEncode(protocol.TypeCursor, protocol.CursorPayload{
		RoomID:    string(s.cfg.RoomID),
		Position:  position,
		Selection: protocol.Selection{Start: start, End: end},
	})
	var err error
	if derr := s.do(func() { err = s.sendOn(ChannelEvents, false, frame) }); derr != nil {
		return derr
	}
	return err
}

// Save writes the current document content to the store.
func (s *Session) Save(ctx context.Context) error {
	var content string
	if err := s.do(func() { content = s.doc.Content() }); err != nil {
		return err
	}

	if err := s.store.Save(ctx, string(s.cfg.RoomID), content); err != nil {
		err = fmt.Errorf("%w: %w", ErrSaveFailed, err)
		s.log.Warn("save failed", logger.Err(err))
		s.post(func() { s.emit(Event{Kind: EventError, Err: err}) })
		return err
	}
	s.log.Info("document saved", slog.Int("bytes", len(content)))
	return nil
}

// Retry restarts an errored session with fresh links and a fresh fetch.
func (s *Session) Retry() error {
	var err error
	if derr := s.do(func() {
		if !s.anyState(StateErrored) {
			err = ErrNotErrored
			return
		}
		s.log.Info("retrying session")
		s.startEpoch()
	}); derr != nil {
		return derr
	}
	return err
}

// Leave announces departure, closes both links cleanly and stops the session.
// No reconnect attempt survives it. Calling Leave on a stopped session is a no-op.
func (s *Session) Leave() error {
	err := s.do(func() {
		if s.states[ChannelEvents] == StateConnected {
			frame := protocol.MustEncode(protocol.TypeLeave, protocol.LeavePayload{RoomID: string(s.cfg.RoomID)})
			if err := s.sendOn(ChannelEvents, false, frame); err != nil {
				s.log.Debug("leave not delivered", logger.Err(err))
			}
		}
		s.stop()
	})
	if errors.Is(err, ErrStopped) {
		return nil
	}
	if err != nil {
		return err
	}
	<-s.done
	return nil
}

// Close stops the session without announcing departure.
func (s *Session) Close() {
	if s.started.Load() {
		s.cancel()
		<-s.done
	}
}

// --- snapshots ---

func (s *Session) States() map[Channel]State {
	out := make(map[Channel]State, 2)
	_ = s.do(func() {
		for ch, st := range s.states {
			out[ch] = st
		}
	})
	return out
}

// State summarizes both links: the most severe link state wins.
func (s *Session) State() State {
	st := StateIdle
	first := true
	for _, v := range s.States() {
		if first || v.severity() > st.severity() {
			st = v
			first = false
		}
	}
	return st
}

func (s *Session) Members() []domain.PresenceEntry {
	var out []domain.PresenceEntry
	_ = s.do(func() { out = s.memberList() })
	return out
}

func (s *Session) Messages() []domain.ChatMessage { return s.chat.Messages() }

// Reconciliation reports the synced and injected flags of the current epoch.
func (s *Session) Reconciliation() (synced, injected bool) {
	_ = s.do(func() { synced, injected = s.synced, s.injected })
	return synced, injected
}

func (s *Session) Title() string {
	var t string
	_ = s.do(func() { t = s.title })
	return t
}

// --- actor internals ---

func (s *Session) emit(ev Event) { s.hub.publish(ev) }

func (s *Session) anyState(st State) bool {
	for _, v := range s.states {
		if v == st {
			return true
		}
	}
	return false
}

func (s *Session) sendOn(ch Channel, binary bool, data []byte) error {
	l := s.links[ch]
	if l == nil || s.states[ch] != StateConnected {
		return ErrNotConnected
	}
	return l.send(binary, data)
}

func (s *Session) memberList() []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (s *Session) startEpoch() {
	if s.linkCancel != nil {
		s.linkCancel()
	}
	s.stopSyncTimer()

	s.epoch++
	epoch := s.epoch
	s.synced, s.injected, s.pending = false, false, nil
	s.updatesOpen = false
	s.members = make(map[domain.ConnectionID]domain.PresenceEntry)

	ctx, cancel := context.WithCancel(s.ctx)
	s.linkCancel = cancel

	s.links = map[Channel]*link{
		ChannelUpdates: s.newLink(ChannelUpdates, epoch, nil),
		ChannelEvents:  s.newLink(ChannelEvents, epoch, s.sendJoin),
	}
	for ch, l := range s.links {
		s.states[ch] = StateConnecting
		s.linkWG.Add(1)
		go func(l *link) {
			defer s.linkWG.Done()
			l.run(ctx)
		}(l)
	}

	s.linkWG.Add(1)
	go func() {
		defer s.linkWG.Done()
		s.fetch(ctx, epoch)
	}()

	s.log.Debug("session epoch started", slog.Uint64("epoch", epoch))
}

func (s *Session) newLink(ch Channel, epoch uint64, onOpen func(Transport) error) *link {
	return &link{
		ch:      ch,
		room:    s.cfg.RoomID,
		epoch:   epoch,
		cfg:     s.cfg,
		dialer:  s.dialer,
		log:     s.log.With(slog.String("link", string(ch))),
		onOpen:  onOpen,
		post:    s.postCtx,
		onState: s.onLinkState,
		onFrame: s.onFrame,
	}
}

func (s *Session) sendJoin(t Transport) error {
	frame := protocol.MustEncode(protocol.TypeJoin, protocol.JoinPayload{
		RoomID:      string(s.cfg.RoomID),
		DisplayName: s.cfg.DisplayName,
	})
	return t.WriteMessage(false, frame)
}

// stop tears the session down from inside the actor.
func (s *Session) stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.stopSyncTimer()
	if s.linkCancel != nil {
		s.linkCancel()
	}
	s.linkWG.Wait()

	for ch, st := range s.states {
		if st != StateDisconnected {
			s.states[ch] = StateDisconnected
			s.emit(Event{Kind: EventState, Channel: ch, State: StateDisconnected})
		}
	}
	s.log.Info("session stopped")
}

func (s *Session) fetch(ctx context.Context, epoch uint64) {
	doc, err := s.store.Fetch(ctx, string(s.cfg.RoomID))
	if ctx.Err() != nil {
		return
	}
	s.postCtx(ctx, func() { s.onFetched(epoch, doc, err) })
}

func (s *Session) onFetched(epoch uint64, doc docstore.Document, err error) {
	if epoch != s.epoch || s.stopped {
		return
	}

	content := doc.Content
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		s.log.Info("no persisted document")
		content = ""
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrLoadFailed, err)
		s.log.Warn("fetch failed", logger.Err(err))
		s.emit(Event{Kind: EventError, Err: err})
		return
	default:
		s.title = doc.Title
	}

	s.pending = &content
	s.reconcile()
}

func (s *Session) onLinkState(epoch uint64, ch Channel, st State, attempt int, err error) {
	if epoch != s.epoch || s.stopped {
		return
	}
	s.states[ch] = st

	switch ch {
	case ChannelUpdates:
		switch st {
		case StateConnected:
			if s.updatesOpen {
				// a new connection means a new sync with peers
				s.synced, s.injected = false, false
			}
			s.updatesOpen = true
			if err := s.sendOn(ChannelUpdates, true, s.doc.SyncRequest()); err != nil {
				s.log.Warn("state request not sent", logger.Err(err))
			}
			s.armSyncTimer(epoch)
		case StateDisconnected, StateReconnecting, StateErrored:
			// nothing reaches peers until the next sync
			s.synced = false
			s.stopSyncTimer()
		}
	case ChannelEvents:
		if st != StateConnected && len(s.members) > 0 {
			s.members = make(map[domain.ConnectionID]domain.PresenceEntry)
			s.emit(Event{Kind: EventPresence, Members: nil})
		}
	}

	s.emit(Event{Kind: EventState, Channel: ch, State: st, Attempt: attempt, Err: err})
}

func (s *Session) onFrame(epoch uint64, ch Channel, binary bool, data []byte) {
	if epoch != s.epoch || s.stopped {
		return
	}
	switch ch {
	case ChannelUpdates:
		if !binary {
			return
		}
		res, err := s.doc.Receive(data)
		if err != nil {
			s.log.Warn("remote update rejected", logger.Err(err))
			return
		}
		if res.Reply != nil {
			if err := s.sendOn(ChannelUpdates, true, res.Reply); err != nil {
				s.log.Debug("state reply not sent", logger.Err(err))
			}
		}
		if res.Changed {
			s.emit(Event{Kind: EventDocument})
		}
		if res.Synced {
			s.markSynced("peer")
		}
	case ChannelEvents:
		if binary {
			return
		}
		s.handleEvent(data)
	}
}

func (s *Session) handleEvent(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("bad event frame", logger.Err(err))
		return
	}

	switch env.Type {
	case protocol.TypeExistingMembers:
		var items []protocol.PresenceItem
		if err := env.Into(&items); err != nil {
			s.log.Warn("bad existing-members", logger.Err(err))
			return
		}
		s.members = make(map[domain.ConnectionID]domain.PresenceEntry, len(items))
		for _, it := range items {
			e := it.ToDomain()
			s.members[e.ConnectionID] = e
		}
		s.emit(Event{Kind: EventPresence, Members: s.memberList()})

	case protocol.TypeMemberJoined:
		var p protocol.MemberJoinedPayload
		if err := env.Into(&p); err != nil {
			return
		}
		id := domain.ConnectionID(p.ConnectionID)
		if _, ok := s.members[id]; ok {
			return
		}
		s.members[id] = domain.PresenceEntry{ConnectionID: id, DisplayName: p.DisplayName, JoinedAt: time.UnixMilli(p.Timestamp)}
		s.emit(Event{Kind: EventPresence, Members: s.memberList()})

	case protocol.TypeMemberLeft:
		var p protocol.MemberLeftPayload
		if err := env.Into(&p); err != nil {
			return
		}
		id := domain.ConnectionID(p.ConnectionID)
		if _, ok := s.members[id]; !ok {
			return
		}
		delete(s.members, id)
		s.emit(Event{Kind: EventPresence, Members: s.memberList()})

	case protocol.TypeMessage:
		var p protocol.MessagePayload
		if err := env.Into(&p); err != nil {
			return
		}
		msg := p.ToDomain()
		if s.chat.Add(msg) {
			s.emit(Event{Kind: EventChat, Message: msg})
		}

	case protocol.TypeCursor:
		var p protocol.CursorPayload
		if err := env.Into(&p); err != nil {
			return
		}
		s.emit(Event{Kind: EventCursor, Cursor: Cursor{
			ConnectionID: domain.ConnectionID(p.ConnectionID),
			Position:     p.Position,
			Start:        p.Selection.Start,
			End:          p.Selection.End,
		}})

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := env.Into(&p); err != nil {
			return
		}
		s.emit(Event{Kind: EventError, Err: &ServerError{Code: p.Code, Message: p.Message, Ref: p.Ref}})

	default:
		s.log.Debug("ignoring event", slog.String("type", env.Type))
	}
}

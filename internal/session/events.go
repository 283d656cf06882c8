package session

import (
	"sync"

	"github.com/cwrk-planet/docsync/internal/domain"
)

type EventKind int

const (
	EventState EventKind = iota + 1
	EventPresence
	EventChat
	EventCursor
	EventDocument
	EventSynced
	EventReconciled
	EventError
)

type Cursor struct {
	ConnectionID domain.ConnectionID
	Position     int
	Start, End   int
}

// Event is what subscribers observe. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	Channel Channel
	State   State
	Attempt int

	Members  []domain.PresenceEntry
	Message  domain.ChatMessage
	Cursor   Cursor
	Injected bool

	Err error
}

// hub fans events out to subscribers. A full subscriber buffer drops the event
// for that subscriber only.
type hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, unsub
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

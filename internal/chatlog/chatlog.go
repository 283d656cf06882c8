// Package chatlog keeps a client's chat history with duplicate suppression.
//
// A message is a duplicate when its id was already seen, or, for messages
// without an id, when a stored message has the same text and author and a
// timestamp within the dedup window.
package chatlog

import (
	"sync"
	"time"

	"github.com/cwrk-planet/docsync/internal/domain"
)

const DefaultWindow = time.Second

type Log struct {
	mu       sync.RWMutex
	window   time.Duration
	messages []domain.ChatMessage
	ids      map[string]struct{}
}

func New(window time.Duration) *Log {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Log{window: window, ids: make(map[string]struct{})}
}

// Add appends m unless it duplicates a stored message. It reports whether m was stored.
func (l *Log) Add(m domain.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.HasID() {
		if _, seen := l.ids[m.ID]; seen {
			return false
		}
	} else if l.similarLocked(m) {
		return false
	}

	if m.HasID() {
		l.ids[m.ID] = struct{}{}
	}
	l.messages = append(l.messages, m)
	return true
}

func (l *Log) similarLocked(m domain.ChatMessage) bool {
	for i := len(l.messages) - 1; i >= 0; i-- {
		prev := l.messages[i]
		if prev.Text != m.Text || prev.AuthorDisplayName != m.AuthorDisplayName {
			continue
		}
		d := prev.Timestamp.Sub(m.Timestamp)
		if d < 0 {
			d = -d
		}
		if d < l.window {
			return true
		}
	}
	return false
}

func (l *Log) Messages() []domain.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

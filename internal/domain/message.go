package domain

import (
	"strings"
	"time"
)

const MaxMessageLength = 4000

// ChatMessage is immutable once created. ID, when present, is the dedup key.
type ChatMessage struct {
	ID                string
	Text              string
	AuthorDisplayName string
	Timestamp         time.Time
}

func (m ChatMessage) HasID() bool { return m.ID != "" }

// Normalize trims the text and rejects empty or oversized messages.
func (m ChatMessage) Normalize() (ChatMessage, error) {
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" {
		return m, ErrEmptyMessage
	}
	if len([]rune(m.Text)) > MaxMessageLength {
		return m, ErrMessageTooLong
	}
	return m, nil
}

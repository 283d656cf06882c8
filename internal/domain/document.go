package domain

import (
	"errors"
	"time"
)

var ErrDocumentAccess = errors.New("no access to document")

// Document is the persisted snapshot of a room's text. Its id is the room id.
type Document struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Package docstore fetches and saves persisted document snapshots for clients.
package docstore

import (
	"context"
	"errors"
)

var ErrRemote = errors.New("document service error")

type Document struct {
	ID      string
	Title   string
	Content string
}

type Store interface {
	Fetch(ctx context.Context, id string) (Document, error)
	Save(ctx context.Context, id, content string) error
}

package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwrk-planet/docsync/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps documents in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Fetch(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `SELECT id, title, content FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.Title, &d.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP`,
		id, content)
	if err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// Put stores a full document, title included.
func (s *SQLiteStore) Put(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, updated_at = CURRENT_TIMESTAMP`,
		d.ID, d.Title, d.Content)
	if err != nil {
		return fmt.Errorf("put %s: %w", d.ID, err)
	}
	return nil
}

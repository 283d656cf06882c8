package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cwrk-planet/docsync/internal/domain"
)

// ErrDocumentExists is returned by Create for a taken room id.
var ErrDocumentExists = errors.New("document already exists")

type DocumentRepository struct {
	db *pgxpool.Pool
}

func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	var d domain.Document
	query := `
		SELECT id, owner_id, title, content, created_at, updated_at
		FROM documents WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).
		Scan(&d.ID, &d.OwnerID, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	query := `
		INSERT INTO documents (id, owner_id, title, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query, d.ID, d.OwnerID, d.Title, d.Content).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDocumentExists
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// UpdateContent replaces the content when userID owns the document or is one of its members.
func (r *DocumentRepository) UpdateContent(ctx context.Context, id, userID, content string) error {
	query := `
		UPDATE documents d
		SET content = $3, updated_at = now()
		WHERE d.id = $1
		  AND (d.owner_id = $2 OR EXISTS (
		        SELECT 1 FROM document_members m
		        WHERE m.document_id = d.id AND m.user_id = $2))`
	tag, err := r.db.Exec(ctx, query, id, userID, content)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// nothing updated: tell "missing" from "not allowed"
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if !exists {
		return domain.ErrDocumentNotFound
	}
	return domain.ErrDocumentAccess
}

// AddMember grants userID write access to the document.
func (r *DocumentRepository) AddMember(ctx context.Context, id, userID string) error {
	query := `
		INSERT INTO document_members (document_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	if _, err := r.db.Exec(ctx, query, id, userID); err != nil {
		return fmt.Errorf("add document member: %w", err)
	}
	return nil
}

package notestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jun/secondbrain/internal/markdown"
	"github.com/jun/secondbrain/internal/model"
)

// DB is the part of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const notesTable = `create table if not exists notes (
    id            text primary key,
    user_id       text NOT NULL,
    title         text NOT NULL,
    content       text NOT NULL,
    content_html  text NOT NULL DEFAULT '',
    created_at    timestamptz NOT NULL DEFAULT now())`

const notesUserIndex = `create index if not exists notes_user_id_idx on notes (user_id)`

// PostgresRepository stores notes in Postgres.
type PostgresRepository struct {
	db       DB
	renderer *markdown.Renderer
}

// NewPostgresRepository creates the schema if needed.
func NewPostgresRepository(ctx context.Context, db DB, renderer *markdown.Renderer) (*PostgresRepository, error) {
	for _, stmt := range []string{notesTable, notesUserIndex} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate notes: %w", err)
		}
	}
	return &PostgresRepository{db: db, renderer: renderer}, nil
}

func (r *PostgresRepository) Create(ctx context.Context, userID, title, content string) (*model.Note, error) {
	note, err := newNote(r.renderer, userID, title, content)
	if err != nil {
		return nil, err
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO notes (id, user_id, title, content, content_html, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		note.ID, note.UserID, note.Title, note.Content, note.ContentHTML, note.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return note, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, noteID string) (*model.Note, error) {
	note := model.Note{ID: noteID, UserID: userID}
	err := r.db.QueryRow(ctx,
		`SELECT title, content, content_html, created_at FROM notes WHERE id = $1 AND user_id = $2`,
		noteID, userID).Scan(&note.Title, &note.Content, &note.ContentHTML, &note.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select note: %w", err)
	}
	return &note, nil
}

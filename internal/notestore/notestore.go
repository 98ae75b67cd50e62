// Package notestore is the durable store for promoted notes.
package notestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jun/secondbrain/internal/markdown"
	"github.com/jun/secondbrain/internal/model"
)

const (
	maxTitleLength = 255
	maxContentSize = 256 * 1024 // 256KB
)

var (
	ErrNotFound = errors.New("note not found")
	// ErrInvalidNote covers blank or oversized notes.
	ErrInvalidNote = errors.New("invalid note")
)

// Repository persists finalized notes.
type Repository interface {
	Create(ctx context.Context, userID, title, content string) (*model.Note, error)
	Get(ctx context.Context, userID, noteID string) (*model.Note, error)
}

// newNote validates the input and renders the body.
func newNote(r *markdown.Renderer, userID, title, content string) (*model.Note, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: title and content must not be blank", ErrInvalidNote)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title too long (max %d)", ErrInvalidNote, maxTitleLength)
	}
	if len(content) > maxContentSize {
		return nil, fmt.Errorf("%w: content too large (max %d bytes)", ErrInvalidNote, maxContentSize)
	}

	html, err := r.Render(content)
	if err != nil {
		return nil, err
	}

	return &model.Note{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Content:     content,
		ContentHTML: html,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

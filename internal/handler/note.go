package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/draftstore"
	"github.com/jun/secondbrain/internal/logging"
	"github.com/jun/secondbrain/internal/metrics"
	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/notestore"
)

// PromoteResponse is the data of a successful promotion.
type PromoteResponse struct {
	NoteID string `json:"noteId"`
}

// NoteHandler serves /notes.
type NoteHandler struct {
	drafts DraftStore
	notes  notestore.Repository
	issuer *auth.Issuer
}

func NewNoteHandler(drafts DraftStore, notes notestore.Repository, issuer *auth.Issuer) *NoteHandler {
	return &NoteHandler{drafts: drafts, notes: notes, issuer: issuer}
}

// PromoteDraft handles POST /notes/from-draft/{id}. An empty body promotes
// the draft held in the fast store; a {title, content} body (teardown
// beacon) is promoted as sent.
func (h *NoteHandler) PromoteDraft(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.FromContext(ctx)

	claims, err := Authenticate(req, h.issuer)
	if err != nil {
		return unauthorized(), nil
	}
	userID := claims.Subject
	draftID := req.PathParameters["id"]
	if draftID == "" {
		return failure(http.StatusBadRequest, "Missing draft ID"), nil
	}

	source := "manual"
	var payload model.DraftPayload
	if strings.TrimSpace(req.Body) != "" {
		source = "beacon"
		if err := json.Unmarshal([]byte(req.Body), &payload); err != nil {
			return failure(http.StatusBadRequest, "Invalid request body"), nil
		}
	} else {
		draft, err := h.drafts.Get(ctx, userID, draftID)
		if err != nil {
			if errors.Is(err, draftstore.ErrNotFound) {
				return failure(http.StatusNotFound, "Draft not found"), nil
			}
			log.Error("get draft for promotion failed", zap.Error(err))
			return failure(http.StatusInternalServerError, "Failed to promote draft"), nil
		}
		payload = model.DraftPayload{Title: draft.Title, Content: draft.Content}
	}

	note, err := h.notes.Create(ctx, userID, payload.Title, payload.Content)
	if err != nil {
		if errors.Is(err, notestore.ErrInvalidNote) {
			metrics.Promotions.WithLabelValues(source, "skipped").Inc()
			return failure(http.StatusBadRequest, err.Error()), nil
		}
		metrics.Promotions.WithLabelValues(source, "error").Inc()
		log.Error("create note failed", zap.String("draft_id", draftID), zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to promote draft"), nil
	}

	// The note is durable at this point; a leftover draft only expires later.
	if err := h.drafts.Delete(ctx, userID, draftID); err != nil {
		log.Warn("delete promoted draft failed", zap.String("draft_id", draftID), zap.Error(err))
	}

	metrics.Promotions.WithLabelValues(source, "success").Inc()
	log.Info("draft promoted", zap.String("draft_id", draftID), zap.String("note_id", note.ID), zap.String("source", source))
	return success(http.StatusCreated, &PromoteResponse{NoteID: note.ID}), nil
}

// GetNote handles GET /notes/{id}.
func (h *NoteHandler) GetNote(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := Authenticate(req, h.issuer)
	if err != nil {
		return unauthorized(), nil
	}

	note, err := h.notes.Get(ctx, claims.Subject, req.PathParameters["id"])
	if err != nil {
		if errors.Is(err, notestore.ErrNotFound) {
			return failure(http.StatusNotFound, "Note not found"), nil
		}
		logging.FromContext(ctx).Error("get note failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to get note"), nil
	}

	return success(http.StatusOK, note), nil
}

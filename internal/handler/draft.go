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
)

// DraftStore is the fast store.
type DraftStore interface {
	Save(ctx context.Context, userID string, req model.DraftRequest) (*model.Draft, error)
	Get(ctx context.Context, userID, draftID string) (*model.Draft, error)
	Delete(ctx context.Context, userID, draftID string) error
}

// DraftHandler serves /drafts.
type DraftHandler struct {
	drafts DraftStore
	issuer *auth.Issuer
}

func NewDraftHandler(drafts DraftStore, issuer *auth.Issuer) *DraftHandler {
	return &DraftHandler{drafts: drafts, issuer: issuer}
}

// SaveDraft handles POST /drafts.
func (h *DraftHandler) SaveDraft(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := Authenticate(req, h.issuer)
	if err != nil {
		return unauthorized(), nil
	}

	var body model.DraftRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return failure(http.StatusBadRequest, "Invalid request body"), nil
	}
	if strings.TrimSpace(body.NoteID) == "" {
		return failure(http.StatusBadRequest, "noteId is required"), nil
	}

	draft, err := h.drafts.Save(ctx, claims.Subject, body)
	if err != nil {
		metrics.DraftSaves.WithLabelValues("error").Inc()
		logging.FromContext(ctx).Error("save draft failed", zap.String("draft_id", body.NoteID), zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to save draft"), nil
	}

	metrics.DraftSaves.WithLabelValues("success").Inc()
	return success(http.StatusOK, draft), nil
}

// GetDraft handles GET /drafts/{id}.
func (h *DraftHandler) GetDraft(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := Authenticate(req, h.issuer)
	if err != nil {
		return unauthorized(), nil
	}

	draft, err := h.drafts.Get(ctx, claims.Subject, req.PathParameters["id"])
	if err != nil {
		if errors.Is(err, draftstore.ErrNotFound) {
			return failure(http.StatusNotFound, "Draft not found"), nil
		}
		logging.FromContext(ctx).Error("get draft failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to get draft"), nil
	}

	return success(http.StatusOK, draft), nil
}

// DeleteDraft handles DELETE /drafts/{id}.
func (h *DraftHandler) DeleteDraft(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := Authenticate(req, h.issuer)
	if err != nil {
		return unauthorized(), nil
	}

	if err := h.drafts.Delete(ctx, claims.Subject, req.PathParameters["id"]); err != nil {
		logging.FromContext(ctx).Error("delete draft failed", zap.Error(err))
		return failure(http.StatusInternalServerError, "Failed to delete draft"), nil
	}

	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/secondbrain/internal/draftstore"
	"github.com/jun/secondbrain/internal/handler"
	"github.com/jun/secondbrain/internal/markdown"
	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/notestore"
)

type fixture struct {
	drafts *handler.DraftHandler
	notes  *handler.NoteHandler
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer := newIssuer()
	store := draftstore.NewRedisStore(newRedis(t), 0)
	repo := notestore.NewDynamoRepository(nil, "Notes", markdown.NewRenderer())
	return &fixture{
		drafts: handler.NewDraftHandler(store, issuer),
		notes:  handler.NewNoteHandler(store, repo, issuer),
		token:  makeToken(t, issuer, testUserID),
	}
}

func withID(req events.APIGatewayProxyRequest, id string) events.APIGatewayProxyRequest {
	req.PathParameters["id"] = id
	return req
}

func TestDraftHandler_SaveGetDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := `{"noteId":"d1","title":"Groceries","content":"- milk","version":0}`
	resp, _ := f.drafts.SaveDraft(ctx, makeRequest("POST", "/drafts", body, f.token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("SaveDraft: expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	saved := decode[model.Draft](t, resp)
	if saved.Data == nil || saved.Data.Version != 1 {
		t.Fatalf("expected version 1, got %s", resp.Body)
	}

	// Second save bumps the version.
	resp, _ = f.drafts.SaveDraft(ctx, makeRequest("POST", "/drafts", body, f.token))
	if v := decode[model.Draft](t, resp).Data.Version; v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}

	resp, _ = f.drafts.GetDraft(ctx, withID(makeRequest("GET", "/drafts/d1", "", f.token), "d1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GetDraft: expected 200, got %d", resp.StatusCode)
	}
	got := decode[model.Draft](t, resp).Data
	if got.Title != "Groceries" || got.Content != "- milk" {
		t.Errorf("unexpected draft: %+v", got)
	}

	resp, _ = f.drafts.DeleteDraft(ctx, withID(makeRequest("DELETE", "/drafts/d1", "", f.token), "d1"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DeleteDraft: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = f.drafts.GetDraft(ctx, withID(makeRequest("GET", "/drafts/d1", "", f.token), "d1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GetDraft after delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestDraftHandler_SaveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		body   string
		token  string
		status int
	}{
		{"no token", `{"noteId":"d1"}`, "", http.StatusUnauthorized},
		{"bad json", `{`, f.token, http.StatusBadRequest},
		{"missing noteId", `{"title":"t"}`, f.token, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.drafts.SaveDraft(ctx, makeRequest("POST", "/drafts", tt.body, tt.token))
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestDraftHandler_IsolatedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.drafts.SaveDraft(ctx, makeRequest("POST", "/drafts", `{"noteId":"d1","title":"t","content":"c"}`, f.token))

	other := makeToken(t, newIssuer(), "someone-else")
	resp, _ := f.drafts.GetDraft(ctx, withID(makeRequest("GET", "/drafts/d1", "", other), "d1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for another user's draft, got %d", resp.StatusCode)
	}
}

func TestNoteHandler_PromoteFromFastStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.drafts.SaveDraft(ctx, makeRequest("POST", "/drafts", `{"noteId":"d1","title":"Plan","content":"# Q3"}`, f.token))

	resp, _ := f.notes.PromoteDraft(ctx, withID(makeRequest("POST", "/notes/from-draft/d1", "", f.token), "d1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PromoteDraft: expected 201, got %d: %s", resp.StatusCode, resp.Body)
	}
	promoted := decode[handler.PromoteResponse](t, resp)
	if promoted.Data == nil || promoted.Data.NoteID == "" {
		t.Fatalf("expected note id, got %s", resp.Body)
	}

	// The draft is gone once promoted.
	resp, _ = f.drafts.GetDraft(ctx, withID(makeRequest("GET", "/drafts/d1", "", f.token), "d1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected draft to be deleted, got %d", resp.StatusCode)
	}

	noteID := promoted.Data.NoteID
	resp, _ = f.notes.GetNote(ctx, withID(makeRequest("GET", "/notes/"+noteID, "", f.token), noteID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GetNote: expected 200, got %d", resp.StatusCode)
	}
	note := decode[model.Note](t, resp).Data
	if note.Title != "Plan" || note.Content != "# Q3" || note.UserID != testUserID {
		t.Errorf("unexpected note: %+v", note)
	}
	if note.ContentHTML == "" {
		t.Error("expected rendered HTML")
	}
}

func TestNoteHandler_PromoteFromBeacon(t *testing.T) {
	f := newFixture(t)

	req := withID(makeRequest("POST", "/notes/from-draft/d9", `{"title":"Closing","content":"last words"}`, f.token), "d9")
	resp, _ := f.notes.PromoteDraft(context.Background(), req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, resp.Body)
	}
}

func TestNoteHandler_PromoteErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.drafts.SaveDraft(ctx, makeRequest("POST", "/drafts", `{"noteId":"blank","title":"  ","content":"body"}`, f.token))

	tests := []struct {
		name   string
		id     string
		body   string
		token  string
		status int
	}{
		{"unauthorized", "d1", "", "", http.StatusUnauthorized},
		{"missing draft", "nope", "", f.token, http.StatusNotFound},
		{"blank title in fast store", "blank", "", f.token, http.StatusBadRequest},
		{"blank beacon content", "b", `{"title":"t","content":""}`, f.token, http.StatusBadRequest},
		{"bad beacon json", "b", `{`, f.token, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withID(makeRequest("POST", "/notes/from-draft/"+tt.id, tt.body, tt.token), tt.id)
			resp, _ := f.notes.PromoteDraft(ctx, req)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, resp.StatusCode, resp.Body)
			}
		})
	}
}

func TestNoteHandler_GetNoteNotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.notes.GetNote(context.Background(), withID(makeRequest("GET", "/notes/x", "", f.token), "x"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

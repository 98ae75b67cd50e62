package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-lambda-go/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/authcode"
	"github.com/jun/secondbrain/internal/crypto"
	"github.com/jun/secondbrain/internal/draftstore"
	"github.com/jun/secondbrain/internal/handler"
	"github.com/jun/secondbrain/internal/markdown"
	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/notestore"
)

func newTestApp(t *testing.T, devMode bool) (*App, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	issuer := auth.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour, 24*time.Hour)
	profiles := auth.NewAuthService(nil, nil, "", crypto.NewLocalEncryptor())
	drafts := draftstore.NewRedisStore(rdb, time.Hour)
	notes := notestore.NewDynamoRepository(nil, "Notes", markdown.NewRenderer())

	a := &App{
		authHandler:      handler.NewAuthHandler(profiles, profiles, authcode.NewMemoryStore(0), issuer, auth.NewRefreshRegistry(rdb), "http://localhost:3000", devMode),
		draftHandler:     handler.NewDraftHandler(drafts, issuer),
		noteHandler:      handler.NewNoteHandler(drafts, notes, issuer),
		logger:           zap.NewNop(),
		frontendURL:      "http://localhost:3000",
		devMode:          devMode,
		apiGatewaySecret: "origin-secret",
	}

	token, err := issuer.IssueAccess(&model.User{ID: "u1"})
	require.NoError(t, err)
	return a, token
}

func request(method, path, body, token string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers:    map[string]string{"x-origin-verify": "origin-secret"},
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	return req
}

func TestHandleRequest_Preflight(t *testing.T) {
	a, _ := newTestApp(t, false)

	resp, err := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodOptions, Path: "/api/drafts"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "true", resp.Headers["Access-Control-Allow-Credentials"])
}

func TestHandleRequest_OriginVerify(t *testing.T) {
	a, token := newTestApp(t, false)
	ctx := context.Background()

	req := request(http.MethodGet, "/api/users/me", "", token)
	delete(req.Headers, "x-origin-verify")
	resp, _ := a.HandleRequest(ctx, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Headers["X-Origin-Verify"] = "wrong"
	resp, _ = a.HandleRequest(ctx, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = a.HandleRequest(ctx, request(http.MethodGet, "/api/users/me", "", token))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleRequest_DevModeSkipsOriginCheck(t *testing.T) {
	a, token := newTestApp(t, true)

	req := request(http.MethodGet, "/users/me", "", token)
	delete(req.Headers, "x-origin-verify")
	resp, _ := a.HandleRequest(context.Background(), req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleRequest_DraftLifecycle(t *testing.T) {
	a, token := newTestApp(t, false)
	ctx := context.Background()

	resp, _ := a.HandleRequest(ctx, request(http.MethodPost, "/api/drafts", `{"noteId":"d1","title":"T","content":"C"}`, token))
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)

	resp, _ = a.HandleRequest(ctx, request(http.MethodGet, "/api/drafts/d1", "", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, `"noteId":"d1"`)

	resp, _ = a.HandleRequest(ctx, request(http.MethodPost, "/api/notes/from-draft/d1", "", token))
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	assert.Contains(t, resp.Body, `"noteId"`)

	resp, _ = a.HandleRequest(ctx, request(http.MethodDelete, "/api/drafts/d1", "", token))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandleRequest_NotFound(t *testing.T) {
	a, token := newTestApp(t, false)
	ctx := context.Background()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/unknown"},
		{http.MethodPut, "/api/drafts/d1"},
		{http.MethodGet, "/api/drafts/d1/extra"},
		{http.MethodGet, "/api/notes/from-draft/d1"},
	} {
		resp, _ := a.HandleRequest(ctx, request(tc.method, tc.path, "", token))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestPathID(t *testing.T) {
	id, ok := pathID("/drafts/abc", "/drafts/")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = pathID("/drafts/", "/drafts/")
	assert.False(t, ok)
	_, ok = pathID("/drafts/a/b", "/drafts/")
	assert.False(t, ok)
}

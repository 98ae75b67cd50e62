package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/authcode"
	"github.com/jun/secondbrain/internal/crypto"
	"github.com/jun/secondbrain/internal/handler"
	"github.com/jun/secondbrain/internal/model"
)

const cliRedirect = "http://127.0.0.1:53682/callback"

func newAuthHandler(t *testing.T) *handler.AuthHandler {
	t.Helper()
	profiles := auth.NewAuthService(nil, nil, "", crypto.NewLocalEncryptor())
	oauth := &fakeOAuth{user: &model.User{ID: testUserID, Email: "alice@example.com", Name: "Alice"}}
	registry := auth.NewRefreshRegistry(newRedis(t))
	return handler.NewAuthHandler(oauth, profiles, authcode.NewMemoryStore(0), newIssuer(), registry, "http://localhost:3000", true)
}

// login walks Login -> Callback and returns the one-time code.
func login(t *testing.T, h *handler.AuthHandler) string {
	t.Helper()
	ctx := context.Background()

	req := makeRequest("GET", "/auth/login", "", "")
	req.QueryStringParameters = map[string]string{"redirect_uri": cliRedirect}
	resp, _ := h.Login(ctx, req)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Login: expected 302, got %d: %s", resp.StatusCode, resp.Body)
	}
	state := queryParam(t, resp.Headers["Location"], "state")
	nonce := setCookie(t, resp, "oauth_state")
	if state == "" || nonce == nil {
		t.Fatalf("Login did not set state (%q) and nonce cookie", state)
	}

	cb := withCookie(makeRequest("GET", "/auth/callback", "", ""), "oauth_state="+nonce.Value)
	cb.QueryStringParameters = map[string]string{"code": "google-code", "state": state}
	resp, _ = h.Callback(ctx, cb)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Callback: expected 302, got %d: %s", resp.StatusCode, resp.Body)
	}
	code := queryParam(t, resp.Headers["Location"], "code")
	if code == "" {
		t.Fatalf("Callback redirect %q has no code", resp.Headers["Location"])
	}
	return code
}

func TestAuthHandler_FullFlow(t *testing.T) {
	h := newAuthHandler(t)
	ctx := context.Background()

	code := login(t, h)

	// Exchange the one-time code.
	req := makeRequest("POST", "/auth/token", "", "")
	req.QueryStringParameters = map[string]string{"code": code}
	resp, _ := h.Token(ctx, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Token: expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	tok := decode[model.TokenResponse](t, resp)
	if !tok.Success || tok.Data == nil || tok.Data.AccessToken == "" {
		t.Fatalf("unexpected token response: %s", resp.Body)
	}
	if tok.Data.TokenType != "Bearer" || tok.Data.ExpiresIn != 3600 {
		t.Errorf("unexpected token metadata: %+v", tok.Data)
	}
	refresh := setCookie(t, resp, "refreshToken")
	if refresh == nil || !refresh.HttpOnly {
		t.Fatal("expected HttpOnly refreshToken cookie")
	}

	// The access token identifies the user.
	resp, _ = h.Me(ctx, makeRequest("GET", "/users/me", "", tok.Data.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Me: expected 200, got %d", resp.StatusCode)
	}
	var me model.User
	json.Unmarshal([]byte(resp.Body), &me)
	if me.ID != testUserID || me.Email != "alice@example.com" {
		t.Errorf("unexpected profile: %+v", me)
	}

	// Refresh with the cookie.
	cookie := "refreshToken=" + refresh.Value
	resp, _ = h.Refresh(ctx, withCookie(makeRequest("POST", "/auth/refresh", "", ""), cookie))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Refresh: expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	if r := decode[model.TokenResponse](t, resp); !r.Success || r.Data.AccessToken == "" {
		t.Errorf("unexpected refresh response: %s", resp.Body)
	}

	// Logout revokes the refresh token.
	resp, _ = h.Logout(ctx, withCookie(makeRequest("POST", "/auth/logout", "", ""), cookie))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Logout: expected 200, got %d", resp.StatusCode)
	}
	if c := setCookie(t, resp, "refreshToken"); c == nil || c.MaxAge >= 0 {
		t.Error("expected logout to clear the refresh cookie")
	}

	resp, _ = h.Refresh(ctx, withCookie(makeRequest("POST", "/auth/refresh", "", ""), cookie))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Refresh after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_TokenCodeIsSingleUse(t *testing.T) {
	h := newAuthHandler(t)
	ctx := context.Background()
	code := login(t, h)

	req := makeRequest("POST", "/auth/token", "", "")
	req.QueryStringParameters = map[string]string{"code": code}
	if resp, _ := h.Token(ctx, req); resp.StatusCode != http.StatusOK {
		t.Fatalf("first exchange: expected 200, got %d", resp.StatusCode)
	}
	resp, _ := h.Token(ctx, req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("second exchange: expected 401, got %d", resp.StatusCode)
	}
	if r := decode[struct{}](t, resp); r.Success {
		t.Error("expected success=false")
	}
}

func TestAuthHandler_LoginRejectsForeignRedirect(t *testing.T) {
	h := newAuthHandler(t)

	req := makeRequest("GET", "/auth/login", "", "")
	req.QueryStringParameters = map[string]string{"redirect_uri": "https://evil.example.com/steal"}
	resp, _ := h.Login(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_CallbackRejectsStateMismatch(t *testing.T) {
	h := newAuthHandler(t)

	req := withCookie(makeRequest("GET", "/auth/callback", "", ""), "oauth_state=other")
	req.QueryStringParameters = map[string]string{"code": "c", "state": "nonce.aHR0cDovLzEyNy4wLjAuMQ"}
	resp, _ := h.Callback(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_RefreshWithoutCookie(t *testing.T) {
	h := newAuthHandler(t)

	resp, _ := h.Refresh(context.Background(), makeRequest("POST", "/auth/refresh", "", ""))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_RefreshRejectsAccessToken(t *testing.T) {
	h := newAuthHandler(t)
	access := makeToken(t, newIssuer(), testUserID)

	req := withCookie(makeRequest("POST", "/auth/refresh", "", ""), "refreshToken="+access)
	resp, _ := h.Refresh(context.Background(), req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_LogoutWithoutSession(t *testing.T) {
	h := newAuthHandler(t)

	resp, _ := h.Logout(context.Background(), makeRequest("POST", "/auth/logout", "", ""))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthHandler_MeUnauthorized(t *testing.T) {
	h := newAuthHandler(t)

	resp, _ := h.Me(context.Background(), makeRequest("GET", "/users/me", "", ""))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-lambda-go/events"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/jun/secondbrain/internal/auth"
	"github.com/jun/secondbrain/internal/model"
)

const testUserID = "google-123"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newIssuer() *auth.Issuer {
	return auth.NewIssuer(testSecret, time.Hour, 14*24*time.Hour)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func makeToken(t *testing.T, issuer *auth.Issuer, userID string) string {
	t.Helper()
	tok, err := issuer.IssueAccess(&model.User{ID: userID, Email: "alice@example.com", Name: "Alice"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return tok
}

func makeRequest(method, path, body, token string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod:     method,
		Path:           path,
		Body:           body,
		Headers:        map[string]string{"Content-Type": "application/json"},
		PathParameters: map[string]string{},
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	return req
}

// fakeOAuth stands in for Google.
type fakeOAuth struct {
	user *model.User
}

func (f *fakeOAuth) GenerateAuthURL(state string) string {
	return "https://accounts.test/auth?state=" + url.QueryEscape(state)
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "google-access-" + code, RefreshToken: "google-refresh"}, nil
}

func (f *fakeOAuth) FetchUserInfo(context.Context, *oauth2.Token) (*model.User, error) {
	return f.user, nil
}

func decode[T any](t *testing.T, resp events.APIGatewayProxyResponse) model.BaseResponse[T] {
	t.Helper()
	var out model.BaseResponse[T]
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", resp.Body, err)
	}
	return out
}

func setCookie(t *testing.T, resp events.APIGatewayProxyResponse, name string) *http.Cookie {
	t.Helper()
	for _, line := range resp.MultiValueHeaders["Set-Cookie"] {
		c, err := http.ParseSetCookie(line)
		if err == nil && c.Name == name {
			return c
		}
	}
	return nil
}

func queryParam(t *testing.T, location, key string) string {
	t.Helper()
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("bad location %q: %v", location, err)
	}
	return u.Query().Get(key)
}

func withCookie(req events.APIGatewayProxyRequest, pairs ...string) events.APIGatewayProxyRequest {
	req.Headers["Cookie"] = strings.Join(pairs, "; ")
	return req
}

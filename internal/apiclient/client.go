// Package apiclient talks to the secondbrain backend on behalf of a signed-in
// user. Every request goes through an auth transport that attaches the
// bearer token and refreshes it once on a 401.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/session"
)

var (
	// ErrNoToken is returned by calls that need a session when none exists.
	ErrNoToken = errors.New("no session token")
	// ErrRefreshFailed replaces a 401 when the token could not be refreshed.
	// The session has been cleared by the time a caller sees it.
	ErrRefreshFailed = errors.New("auth refresh failed")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
)

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

const (
	authPathPrefix = "/api/auth/"
	refreshPath    = authPathPrefix + "refresh"
	tokenPath      = authPathPrefix + "token"
	refreshTimeout = 10 * time.Second
)

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	session *session.Store
	log     *zap.Logger

	refreshGroup  singleflight.Group
	onSessionLost func()
	onAuthChanged func(ctx context.Context)
}

type Option func(*Client)

// WithTimeout bounds each request, replay included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTransport replaces the network transport under the auth layer.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport.(*authTransport).base = rt }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithSessionLostHook runs fn after an irrecoverable refresh failure.
func WithSessionLostHook(fn func()) Option {
	return func(c *Client) { c.onSessionLost = fn }
}

// WithAuthChangedHook runs fn whenever a refresh failure clears the session,
// so other contexts can re-check their state.
func WithAuthChangedHook(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onAuthChanged = fn }
}

// New creates a client for the backend at baseURL sharing the given store.
func New(baseURL string, store *session.Store, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		baseURL: u,
		session: store,
		log:     zap.NewNop(),
	}
	c.http = &http.Client{
		Jar:       jar,
		Transport: &authTransport{base: http.DefaultTransport, client: c},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HTTPClient returns the underlying client with the auth transport installed.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Session returns the token store shared with the transport.
func (c *Client) Session() *session.Store {
	return c.session
}

// URL resolves path against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Refresh mints a new access token from the refresh cookie. It does not
// touch the session store.
func (c *Client) Refresh(ctx context.Context) (*model.TokenResponse, error) {
	tok, err := call[model.TokenResponse](ctx, c, http.MethodPost, refreshPath, nil, nil)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("refresh response has no access token")
	}
	return tok, nil
}

// ExchangeToken trades a one-time login code for an access token. The
// refresh cookie lands in the client's jar.
func (c *Client) ExchangeToken(ctx context.Context, code string) (*model.TokenResponse, error) {
	tok, err := call[model.TokenResponse](ctx, c, http.MethodPost, "/api/auth/token", url.Values{"code": {code}}, nil)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token response has no access token")
	}
	return tok, nil
}

// Logout revokes the refresh cookie on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	if !c.session.Authenticated() {
		return nil, ErrNoToken
	}
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveDraft writes a draft to the fast store and returns it with the
// server-assigned version.
func (c *Client) SaveDraft(ctx context.Context, d model.DraftRequest) (*model.Draft, error) {
	if !c.session.Authenticated() {
		return nil, ErrNoToken
	}
	return call[model.Draft](ctx, c, http.MethodPost, "/api/drafts", nil, d)
}

// GetDraft returns ErrNotFound when the fast store has no such draft.
func (c *Client) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	if !c.session.Authenticated() {
		return nil, ErrNoToken
	}
	return call[model.Draft](ctx, c, http.MethodGet, "/api/drafts/"+url.PathEscape(id), nil, nil)
}

func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	if !c.session.Authenticated() {
		return ErrNoToken
	}
	return c.do(ctx, http.MethodDelete, "/api/drafts/"+url.PathEscape(id), nil, nil, nil)
}

// SaveToDatabase promotes the fast-store draft to a durable note.
func (c *Client) SaveToDatabase(ctx context.Context, id string) (string, error) {
	if !c.session.Authenticated() {
		return "", ErrNoToken
	}
	res, err := call[struct {
		NoteID string `json:"noteId"`
	}](ctx, c, http.MethodPost, "/api/notes/from-draft/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return "", err
	}
	return res.NoteID, nil
}

func (c *Client) GetNote(ctx context.Context, id string) (*model.Note, error) {
	if !c.session.Authenticated() {
		return nil, ErrNoToken
	}
	return call[model.Note](ctx, c, http.MethodGet, "/api/notes/"+url.PathEscape(id), nil, nil)
}

// call performs a request whose response uses the BaseResponse envelope.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (*T, error) {
	var env model.BaseResponse[T]
	if err := c.do(ctx, method, path, query, body, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &StatusError{StatusCode: http.StatusOK, Message: env.Message}
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%s %s: response has no data", method, path)
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		// A bytes.Reader gives the request a GetBody so it can be replayed.
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env model.BaseResponse[struct{}]
	if json.Unmarshal(data, &env) == nil && env.Message != "" {
		se.Message = env.Message
	} else {
		se.Message = string(bytes.TrimSpace(data))
	}
	return se
}

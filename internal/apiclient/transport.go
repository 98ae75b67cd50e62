package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/metrics"
)

type retriedKey struct{}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// authTransport attaches the bearer token and turns a 401 into one refresh
// followed by one replay of the original request.
type authTransport struct {
	base   http.RoundTripper
	client *Client
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.client.session.Token()
	out := req.Clone(req.Context())
	if sent != "" {
		out.Header.Set("Authorization", "Bearer "+sent)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if isAuthRequest(req) || retried(req.Context()) {
		return resp, nil
	}
	// A body that cannot be rewound cannot be replayed.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	if err := t.client.refreshShared(req.Context(), sent); err != nil {
		discard(resp)
		return nil, err
	}
	discard(resp)

	replay := req.Clone(markRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		replay.Body = body
	}
	return t.RoundTrip(replay)
}

// isAuthRequest reports whether req targets the refresh endpoint or the
// login-code exchange. Their 401s are final: a bad refresh cookie or a bad
// one-time code cannot be fixed by refreshing.
func isAuthRequest(req *http.Request) bool {
	return strings.HasSuffix(req.URL.Path, refreshPath) || strings.HasSuffix(req.URL.Path, tokenPath)
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// refreshShared refreshes the access token once for every request that
// failed with the same stale token. A request whose token was already
// replaced by a concurrent refresh skips straight to its replay.
func (c *Client) refreshShared(ctx context.Context, stale string) error {
	if current := c.session.Token(); current != "" && current != stale {
		return nil
	}

	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		if current := c.session.Token(); current != "" && current != stale {
			return nil, nil
		}

		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tok, err := c.Refresh(rctx)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("client", "error").Inc()
			c.log.Warn("token refresh failed, clearing session", zap.Error(err))
			c.sessionLost(rctx)
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}

		metrics.TokenRefreshes.WithLabelValues("client", "success").Inc()
		c.session.SetToken(tok.AccessToken)
		return nil, nil
	})
	return err
}

func (c *Client) sessionLost(ctx context.Context) {
	c.session.Clear()
	if c.onAuthChanged != nil {
		c.onAuthChanged(ctx)
	}
	if c.onSessionLost != nil {
		c.onSessionLost()
	}
}

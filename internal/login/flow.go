// Package login signs a user in through the backend's Google OAuth entry
// point, restores a session from the refresh cookie and signs out.
package login

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/apiclient"
	"github.com/jun/secondbrain/internal/model"
	"github.com/jun/secondbrain/internal/session"
)

var (
	// ErrOAuthCancelled is returned when the user closed or denied the consent flow.
	ErrOAuthCancelled = errors.New("oauth flow cancelled")
	// ErrOAuthNoCode is returned when the callback carries no code.
	ErrOAuthNoCode = errors.New("oauth callback has no code")
	// ErrNoSession is returned by Restore when there is nothing to restore.
	ErrNoSession = errors.New("no session to restore")
)

// Flow drives login and logout against one API client.
type Flow struct {
	api           *apiclient.Client
	store         *session.Store
	log           *zap.Logger
	openURL       func(string) error
	onAuthChanged func(ctx context.Context)
}

type Option func(*Flow)

func WithLogger(l *zap.Logger) Option {
	return func(f *Flow) { f.log = l }
}

// WithBrowser replaces the function used to show the consent page.
func WithBrowser(open func(url string) error) Option {
	return func(f *Flow) { f.openURL = open }
}

// WithAuthChanged registers the AUTH_CHANGED broadcast.
func WithAuthChanged(fn func(ctx context.Context)) Option {
	return func(f *Flow) { f.onAuthChanged = fn }
}

func NewFlow(api *apiclient.Client, opts ...Option) *Flow {
	f := &Flow{
		api:     api,
		store:   api.Session(),
		log:     zap.NewNop(),
		openURL: browser.OpenURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AuthURL returns the backend login URL that sends the one-time code to
// redirectURI.
func (f *Flow) AuthURL(redirectURI string) string {
	return f.api.URL("/api/auth/login", url.Values{"redirect_uri": {redirectURI}})
}

// Complete finishes a login from the URL the consent flow redirected to.
func (f *Flow) Complete(ctx context.Context, callbackURL string) (*model.User, error) {
	if callbackURL == "" {
		return nil, ErrOAuthCancelled
	}
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		f.log.Warn("oauth flow returned an error", zap.String("error", e))
		return nil, fmt.Errorf("%w: %s", ErrOAuthCancelled, e)
	}
	code := q.Get("code")
	if code == "" {
		f.log.Warn("oauth callback without code", zap.String("callback", u.Redacted()))
		return nil, ErrOAuthNoCode
	}

	tok, err := f.api.ExchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange login code: %w", err)
	}
	f.store.SetToken(tok.AccessToken)

	user, err := f.api.Me(ctx)
	if err != nil {
		f.store.Clear()
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	f.store.SetUser(user)
	f.log.Info("signed in", zap.String("user_id", user.ID))

	f.authChanged(ctx)
	return user, nil
}

// Restore brings back a session from the refresh cookie. Failure is not
// reported beyond ErrNoSession.
func (f *Flow) Restore(ctx context.Context) (*model.User, error) {
	tok, err := f.api.Refresh(ctx)
	if err != nil {
		f.log.Debug("no session to restore", zap.Error(err))
		return nil, ErrNoSession
	}
	f.store.SetToken(tok.AccessToken)

	user, err := f.api.Me(ctx)
	if err != nil {
		f.log.Debug("restored token rejected", zap.Error(err))
		f.store.Clear()
		return nil, ErrNoSession
	}
	f.store.SetUser(user)
	return user, nil
}

// Logout signs out on the backend and always clears the local session.
func (f *Flow) Logout(ctx context.Context) {
	if err := f.api.Logout(ctx); err != nil {
		f.log.Warn("backend logout failed", zap.Error(err))
	}
	f.store.Clear()
	f.authChanged(ctx)
}

// Interactive opens the consent page in a browser and waits on a loopback
// listener for the redirect carrying the one-time code.
func (f *Flow) Interactive(ctx context.Context) (*model.User, error) {
	return f.InteractiveFrom(ctx, "")
}

// InteractiveFrom is Interactive starting at authURL instead of the
// backend's login URL. Its redirect_uri parameter is replaced with the
// loopback listener.
func (f *Flow) InteractiveFrom(ctx context.Context, authURL string) (*model.User, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth callback: %w", err)
	}
	redirectURI := "http://" + ln.Addr().String() + "/callback"

	callbacks := make(chan string, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			select {
			case callbacks <- redirectURI + "?" + r.URL.RawQuery:
			default:
			}
			fmt.Fprintln(w, "Signed in to secondbrain. You can close this tab.")
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	if authURL == "" {
		authURL = f.AuthURL(redirectURI)
	} else if authURL, err = withRedirect(authURL, redirectURI); err != nil {
		return nil, err
	}
	if err := f.openURL(authURL); err != nil {
		f.log.Warn("could not open browser", zap.String("url", authURL), zap.Error(err))
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrOAuthCancelled, ctx.Err())
	case cb := <-callbacks:
		return f.Complete(ctx, cb)
	}
}

func (f *Flow) authChanged(ctx context.Context) {
	if f.onAuthChanged != nil {
		f.onAuthChanged(ctx)
	}
}

func withRedirect(authURL, redirectURI string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("invalid login url %q", authURL)
	}
	q := u.Query()
	q.Set("redirect_uri", redirectURI)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

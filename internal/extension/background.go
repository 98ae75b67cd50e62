package extension

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pkg/browser"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/login"
	"github.com/jun/secondbrain/internal/model"
)

const loginTimeout = 5 * time.Minute

// Session reports the signed-in state.
type Session interface {
	Authenticated() bool
	User() *model.User
}

// LoginFlow runs the interactive login and the logout.
type LoginFlow interface {
	InteractiveFrom(ctx context.Context, authURL string) (*model.User, error)
	Logout(ctx context.Context)
}

// Background answers tab messages.
type Background struct {
	session Session
	flow    LoginFlow
	openURL func(string) error
	log     *zap.Logger

	wg sync.WaitGroup
}

type BackgroundOption func(*Background)

func WithBackgroundLogger(l *zap.Logger) BackgroundOption {
	return func(b *Background) { b.log = l }
}

// WithTabOpener replaces the function OPEN_TAB uses to show a URL.
func WithTabOpener(open func(url string) error) BackgroundOption {
	return func(b *Background) { b.openURL = open }
}

func NewBackground(sess Session, flow LoginFlow, opts ...BackgroundOption) *Background {
	b := &Background{
		session: sess,
		flow:    flow,
		openURL: browser.OpenURL,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle answers one message. LOGIN answers as soon as the flow has started;
// its outcome reaches tabs through AUTH_CHANGED.
func (b *Background) Handle(ctx context.Context, msg Message) Response {
	log := b.log.With(zap.String("type", string(msg.Type)))

	switch msg.Type {
	case CheckAuth:
		if !b.session.Authenticated() {
			return Response{Success: true}
		}
		return Response{Success: true, Authenticated: true, User: b.session.User()}

	case Login:
		if msg.URL == "" {
			return Response{Error: "url is required"}
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loginTimeout)
			defer cancel()
			user, err := b.flow.InteractiveFrom(lctx, msg.URL)
			if err != nil {
				if errors.Is(err, login.ErrOAuthCancelled) {
					log.Info("login cancelled", zap.Error(err))
				} else {
					log.Error("login failed", zap.Error(err))
				}
				return
			}
			log.Info("login completed", zap.String("user_id", user.ID))
		}()
		return Response{Success: true}

	case Logout:
		b.flow.Logout(ctx)
		return Response{Success: true}

	case OpenTab:
		if msg.URL == "" {
			return Response{Error: "url is required"}
		}
		if err := b.openURL(msg.URL); err != nil {
			log.Warn("open tab failed", zap.String("url", msg.URL), zap.Error(err))
			return Response{Error: err.Error()}
		}
		return Response{Success: true}

	case Ping:
		return Response{Success: true}

	default:
		log.Debug("unhandled message")
		return Response{}
	}
}

// Wait blocks until background logins have finished.
func (b *Background) Wait() {
	b.wg.Wait()
}

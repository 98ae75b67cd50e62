package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects of the messaging channel.
const (
	RequestSubject   = "secondbrain.ext.request"
	RegisterSubject  = "secondbrain.ext.register"
	TabSubjectPrefix = "secondbrain.tab."
)

const defaultNotifyTimeout = 2 * time.Second

// Registration is the body a tab sends on RegisterSubject.
type Registration struct {
	TabID string `json:"tabId"`
}

// TabSubject returns the subject a tab listens on.
func TabSubject(tabID string) string {
	return TabSubjectPrefix + tabID
}

// NATSTransport serves a Background over NATS request/reply and registers
// tabs with a Hub.
type NATSTransport struct {
	nc            *nats.Conn
	bg            *Background
	hub           *Hub
	log           *zap.Logger
	notifyTimeout time.Duration

	mu   sync.Mutex
	ctx  context.Context
	subs []*nats.Subscription
}

type TransportOption func(*NATSTransport)

func WithTransportLogger(l *zap.Logger) TransportOption {
	return func(t *NATSTransport) { t.log = l }
}

// WithNotifyTimeout bounds each AUTH_CHANGED delivery to a tab.
func WithNotifyTimeout(d time.Duration) TransportOption {
	return func(t *NATSTransport) { t.notifyTimeout = d }
}

func NewNATSTransport(nc *nats.Conn, bg *Background, hub *Hub, opts ...TransportOption) *NATSTransport {
	t := &NATSTransport{
		nc:            nc,
		bg:            bg,
		hub:           hub,
		log:           zap.NewNop(),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start subscribes to the request and register subjects. Requests are
// handled with ctx.
func (t *NATSTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx

	reqSub, err := t.nc.Subscribe(RequestSubject, t.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", RequestSubject, err)
	}
	regSub, err := t.nc.Subscribe(RegisterSubject, t.handleRegister)
	if err != nil {
		reqSub.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", RegisterSubject, err)
	}
	t.subs = []*nats.Subscription{reqSub, regSub}

	if err := t.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	t.log.Info("extension transport started", zap.String("url", t.nc.ConnectedUrlRedacted()))
	return nil
}

// Close unsubscribes. The connection stays open.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, s := range t.subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	t.subs = nil
	return errors.Join(errs...)
}

func (t *NATSTransport) baseContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

func (t *NATSTransport) handleRequest(m *nats.Msg) {
	var msg Message
	var resp Response
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		resp = Response{Error: "invalid message"}
	} else {
		resp = t.bg.Handle(t.baseContext(), msg)
	}
	t.respond(m, resp)
}

func (t *NATSTransport) handleRegister(m *nats.Msg) {
	var reg Registration
	if err := json.Unmarshal(m.Data, &reg); err != nil || reg.TabID == "" {
		t.respond(m, Response{Error: "tabId is required"})
		return
	}
	t.hub.Register(&natsPeer{id: reg.TabID, nc: t.nc, timeout: t.notifyTimeout})
	t.log.Debug("tab registered", zap.String("tab_id", reg.TabID))
	t.respond(m, Response{Success: true})
}

func (t *NATSTransport) respond(m *nats.Msg, resp Response) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.log.Error("marshal response", zap.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		t.log.Warn("respond failed", zap.String("subject", m.Subject), zap.Error(err))
	}
}

// natsPeer delivers to one tab subject and waits for its ack.
type natsPeer struct {
	id      string
	nc      *nats.Conn
	timeout time.Duration
}

func (p *natsPeer) ID() string { return p.id }

func (p *natsPeer) Notify(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.nc.RequestWithContext(ctx, TabSubject(p.id), data)
	if errors.Is(err, nats.ErrNoResponders) {
		return fmt.Errorf("%w: %s", ErrPeerGone, p.id)
	}
	if err != nil {
		return fmt.Errorf("notify tab %s: %w", p.id, err)
	}
	return nil
}

// Tab is the tab side of the channel: it sends requests to the background
// and receives broadcasts on its own subject.
type Tab struct {
	id  string
	nc  *nats.Conn
	sub *nats.Subscription
}

// ConnectTab subscribes tabID to broadcasts, calling onMessage for each, and
// registers it with the background.
func ConnectTab(ctx context.Context, nc *nats.Conn, tabID string, onMessage func(Message)) (*Tab, error) {
	sub, err := nc.Subscribe(TabSubject(tabID), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err == nil {
			onMessage(msg)
		}
		m.Respond([]byte(`{"success":true}`))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe tab: %w", err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush tab subscription: %w", err)
	}

	tab := &Tab{id: tabID, nc: nc, sub: sub}
	data, _ := json.Marshal(Registration{TabID: tabID})
	resp, err := tab.request(ctx, RegisterSubject, data)
	if err == nil && !resp.Success {
		err = errors.New(resp.Error)
	}
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("register tab: %w", err)
	}
	return tab, nil
}

func (t *Tab) ID() string { return t.id }

// Send delivers msg to the background and returns its answer.
func (t *Tab) Send(ctx context.Context, msg Message) (Response, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return Response{}, fmt.Errorf("marshal message: %w", err)
	}
	return t.request(ctx, RequestSubject, data)
}

func (t *Tab) request(ctx context.Context, subject string, data []byte) (Response, error) {
	reply, err := t.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return Response{}, fmt.Errorf("request %s: %w", subject, err)
	}
	var resp Response
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Close stops receiving broadcasts. The next broadcast drops this tab.
func (t *Tab) Close() error {
	if err := t.sub.Unsubscribe(); err != nil {
		return err
	}
	return t.nc.Flush()
}

package extension

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/metrics"
)

// ErrPeerGone is returned by a Peer that no longer exists.
var ErrPeerGone = errors.New("peer gone")

// Peer is one tab context.
type Peer interface {
	ID() string
	Notify(ctx context.Context, msg Message) error
}

// Hub fans messages out to every registered peer.
type Hub struct {
	mu    sync.Mutex
	peers map[string]Peer
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{peers: make(map[string]Peer), log: log}
}

// Register adds p, replacing any peer with the same id.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.ID()] = p
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
}

// Len returns the number of registered peers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Broadcast delivers msg to every peer and returns how many accepted it.
// A failing peer never stops the loop; a gone peer is dropped.
func (h *Hub) Broadcast(ctx context.Context, msg Message) int {
	h.mu.Lock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	delivered := 0
	for _, p := range peers {
		err := p.Notify(ctx, msg)
		switch {
		case err == nil:
			delivered++
			metrics.Broadcasts.WithLabelValues("delivered").Inc()
		case errors.Is(err, ErrPeerGone):
			h.Unregister(p.ID())
			metrics.Broadcasts.WithLabelValues("gone").Inc()
			h.log.Debug("peer gone", zap.String("peer", p.ID()))
		default:
			metrics.Broadcasts.WithLabelValues("error").Inc()
			h.log.Warn("notify peer failed", zap.String("peer", p.ID()), zap.Error(err))
		}
	}
	return delivered
}

// NotifyAuthChanged broadcasts AUTH_CHANGED. It fits the auth-changed hooks
// of login.Flow and apiclient.Client.
func (h *Hub) NotifyAuthChanged(ctx context.Context) {
	n := h.Broadcast(ctx, Message{Type: AuthChanged})
	h.log.Debug("auth change broadcast", zap.Int("delivered", n))
}

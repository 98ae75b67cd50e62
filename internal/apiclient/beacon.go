package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/metrics"
	"github.com/jun/secondbrain/internal/model"
)

// Beacon delivers teardown flushes without making the caller wait. Delivery
// is best effort: a process that exits before Drain returns may lose it.
type Beacon struct {
	client  *Client
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBeacon creates a beacon whose sends give up after timeout.
func NewBeacon(c *Client, timeout time.Duration) *Beacon {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Beacon{client: c, timeout: timeout}
}

// Send promotes the given draft content on a detached goroutine.
func (b *Beacon) Send(draftID, title, content string) {
	metrics.BeaconsSent.Inc()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		path := "/api/notes/from-draft/" + url.PathEscape(draftID)
		payload := model.DraftPayload{Title: title, Content: content}
		if err := b.client.do(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
			b.client.log.Warn("teardown beacon not delivered", zap.String("draft_id", draftID), zap.Error(err))
		}
	}()
}

// Drain waits up to max for in-flight sends and reports whether they all
// finished.
func (b *Beacon) Drain(max time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(max):
		return false
	}
}

package authcode

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jun/secondbrain/internal/model"
)

// MemoryStore implements Store with a map. Used in DEV_MODE and tests.
type MemoryStore struct {
	codes map[string]model.LoginCode
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		codes: make(map[string]model.LoginCode),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryStore) Issue(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now.Unix())

	lc := model.LoginCode{
		Code:      uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl).Unix(),
	}
	m.codes[lc.Code] = lc
	return lc.Code, nil
}

func (m *MemoryStore) Consume(_ context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lc, ok := m.codes[code]
	if !ok {
		return "", ErrInvalidCode
	}
	delete(m.codes, code)

	if lc.ExpiresAt < m.now().Unix() {
		return "", ErrInvalidCode
	}
	return lc.UserID, nil
}

// sweep drops expired codes. Caller holds mu.
func (m *MemoryStore) sweep(now int64) {
	for k, lc := range m.codes {
		if lc.ExpiresAt < now {
			delete(m.codes, k)
		}
	}
}

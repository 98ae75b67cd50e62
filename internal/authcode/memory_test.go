package authcode

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_IssueAndConsume(t *testing.T) {
	m := NewMemoryStore(time.Minute)
	ctx := context.Background()

	code, err := m.Issue(ctx, "user1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if code == "" {
		t.Fatal("expected non-empty code")
	}

	userID, err := m.Consume(ctx, code)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if userID != "user1" {
		t.Errorf("Consume = %q, want user1", userID)
	}
}

func TestMemoryStore_CodeIsSingleUse(t *testing.T) {
	m := NewMemoryStore(time.Minute)
	ctx := context.Background()

	code, _ := m.Issue(ctx, "user1")
	m.Consume(ctx, code)

	if _, err := m.Consume(ctx, code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("second Consume: err = %v, want ErrInvalidCode", err)
	}
}

func TestMemoryStore_Expired(t *testing.T) {
	m := NewMemoryStore(time.Minute)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	code, _ := m.Issue(ctx, "user1")

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := m.Consume(ctx, code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Consume after expiry: err = %v, want ErrInvalidCode", err)
	}
}

func TestMemoryStore_UnknownCode(t *testing.T) {
	m := NewMemoryStore(0)

	if _, err := m.Consume(context.Background(), "nope"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("err = %v, want ErrInvalidCode", err)
	}
}

func TestMemoryStore_SweepsExpiredOnIssue(t *testing.T) {
	m := NewMemoryStore(time.Minute)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Issue(ctx, "user1")
	m.Issue(ctx, "user2")

	m.now = func() time.Time { return base.Add(5 * time.Minute) }
	m.Issue(ctx, "user3")

	if len(m.codes) != 1 {
		t.Errorf("expected expired codes to be swept, have %d", len(m.codes))
	}
}

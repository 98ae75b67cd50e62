package autosave

import (
	"fmt"
	"time"
)

// Policy controls when edits reach the fast store and when the fast store is
// promoted to the durable store.
type Policy struct {
	// Debounce is the quiet period after the last edit before a fast-store write.
	Debounce time.Duration
	// BatchSize promotes after this many successful fast-store writes.
	BatchSize int
	// BatchInterval promotes once this much time has passed since the last
	// durable save.
	BatchInterval time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Debounce:      500 * time.Millisecond,
		BatchSize:     50,
		BatchInterval: 5 * time.Minute,
	}
}

func (p Policy) Validate() error {
	if p.Debounce < 0 || p.BatchInterval < 0 {
		return fmt.Errorf("autosave durations must not be negative")
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("autosave batch size must be positive, got %d", p.BatchSize)
	}
	return nil
}

// due reports whether a promotion is owed.
func (p Policy) due(changeCount int, sinceDurable time.Duration) bool {
	return changeCount >= p.BatchSize || sinceDurable >= p.BatchInterval
}

// Package authcode issues the one-time login codes that bridge the OAuth
// callback and the token exchange.
package authcode

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long a code can wait for its exchange.
const DefaultTTL = time.Minute

// ErrInvalidCode is returned for unknown, expired or already used codes.
var ErrInvalidCode = errors.New("invalid or expired login code")

// Store issues and consumes one-time codes.
type Store interface {
	// Issue creates a code that resolves to userID.
	Issue(ctx context.Context, userID string) (string, error)

	// Consume returns the user id behind code and invalidates it.
	Consume(ctx context.Context, code string) (string, error)
}

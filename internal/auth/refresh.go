package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshRevoked is returned when a refresh token id is not registered,
// either because it was revoked on logout or because it expired.
var ErrRefreshRevoked = errors.New("refresh token revoked")

const refreshKeyPrefix = "refresh_token:"

// RefreshRegistry records which refresh tokens are still valid.
// Keys look like refresh_token:{userID}:{tokenID}.
type RefreshRegistry struct {
	rdb redis.Cmdable
}

func NewRefreshRegistry(rdb redis.Cmdable) *RefreshRegistry {
	return &RefreshRegistry{rdb: rdb}
}

func refreshKey(userID, tokenID string) string {
	return refreshKeyPrefix + userID + ":" + tokenID
}

// Register marks the token as valid for ttl.
func (r *RefreshRegistry) Register(ctx context.Context, userID, tokenID string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, refreshKey(userID, tokenID), "valid", ttl).Err(); err != nil {
		return fmt.Errorf("register refresh token: %w", err)
	}
	return nil
}

// Validate returns ErrRefreshRevoked when the token is not registered.
func (r *RefreshRegistry) Validate(ctx context.Context, userID, tokenID string) error {
	n, err := r.rdb.Exists(ctx, refreshKey(userID, tokenID)).Result()
	if err != nil {
		return fmt.Errorf("check refresh token: %w", err)
	}
	if n == 0 {
		return ErrRefreshRevoked
	}
	return nil
}

// Revoke deletes the registration. Revoking an unknown token is not an error.
func (r *RefreshRegistry) Revoke(ctx context.Context, userID, tokenID string) error {
	if err := r.rdb.Del(ctx, refreshKey(userID, tokenID)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

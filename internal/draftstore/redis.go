// Package draftstore is the fast store for in-progress drafts.
package draftstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jun/secondbrain/internal/model"
)

// DefaultTTL is how long an untouched draft survives in the fast store.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a draft does not exist (or expired).
var ErrNotFound = errors.New("draft not found")

const (
	fieldTitle        = "title"
	fieldContent      = "content"
	fieldVersion      = "version"
	fieldLastModified = "last_modified"
)

// Connect opens a Redis client.
func Connect(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisStore keeps each draft in a hash at draft:{userID}:{draftID}.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func draftKey(userID, draftID string) string {
	return "draft:" + userID + ":" + draftID
}

// Save writes the draft and bumps its version in one transaction. The
// returned draft carries the server-assigned version.
func (s *RedisStore) Save(ctx context.Context, userID string, req model.DraftRequest) (*model.Draft, error) {
	if req.NoteID == "" {
		return nil, fmt.Errorf("draft id is required")
	}
	key := draftKey(userID, req.NoteID)
	now := s.now().UTC()

	var version *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldTitle, req.Title,
			fieldContent, req.Content,
			fieldLastModified, now.Format(time.RFC3339Nano),
		)
		version = pipe.HIncrBy(ctx, key, fieldVersion, 1)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis save draft %s: %w", req.NoteID, err)
	}

	return &model.Draft{
		NoteID:       req.NoteID,
		Title:        req.Title,
		Content:      req.Content,
		Version:      version.Val(),
		LastModified: now,
	}, nil
}

// Get returns the draft or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, userID, draftID string) (*model.Draft, error) {
	fields, err := s.rdb.HGetAll(ctx, draftKey(userID, draftID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get draft %s: %w", draftID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	d := &model.Draft{
		NoteID:  draftID,
		Title:   fields[fieldTitle],
		Content: fields[fieldContent],
	}
	if v := fields[fieldVersion]; v != "" {
		d.Version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("draft %s has bad version %q: %w", draftID, v, err)
		}
	}
	if lm := fields[fieldLastModified]; lm != "" {
		d.LastModified, err = time.Parse(time.RFC3339Nano, lm)
		if err != nil {
			return nil, fmt.Errorf("draft %s has bad last_modified %q: %w", draftID, lm, err)
		}
	}
	return d, nil
}

// Delete removes the draft. Deleting a missing draft is not an error.
func (s *RedisStore) Delete(ctx context.Context, userID, draftID string) error {
	if err := s.rdb.Del(ctx, draftKey(userID, draftID)).Err(); err != nil {
		return fmt.Errorf("redis delete draft %s: %w", draftID, err)
	}
	return nil
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps one OAuth access token per tenant in Redis.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func tokenKey(profileID int64) string {
	return fmt.Sprintf("possync:profile:%d:token", profileID)
}

// Token implements TokenSource.
func (s *TokenStore) Token(ctx context.Context, profileID int64) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNoToken
	}
	token, err := s.client.Get(ctx, tokenKey(profileID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && token == "") {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("feed: load token: %w", err)
	}
	return token, nil
}

// Save stores token for the tenant. A zero ttl keeps it until replaced.
func (s *TokenStore) Save(ctx context.Context, profileID int64, token string, ttl time.Duration) error {
	if token == "" {
		return errors.New("feed: empty token")
	}
	return s.client.Set(ctx, tokenKey(profileID), token, ttl).Err()
}

// CheckpointStore remembers the newest receipt date ingested per tenant so the
// next pull only asks for newer receipts.
type CheckpointStore struct {
	client *redis.Client
}

// NewCheckpointStore constructs a CheckpointStore.
func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

func checkpointKey(profileID int64) string {
	return fmt.Sprintf("possync:profile:%d:receipts:checkpoint", profileID)
}

// Last returns the stored checkpoint, or the zero time when none exists.
func (s *CheckpointStore) Last(ctx context.Context, profileID int64) (time.Time, error) {
	raw, err := s.client.Get(ctx, checkpointKey(profileID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("feed: load checkpoint: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("feed: parse checkpoint: %w", err)
	}
	return at, nil
}

// Advance moves the checkpoint forward to at. Older values are ignored.
func (s *CheckpointStore) Advance(ctx context.Context, profileID int64, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	current, err := s.Last(ctx, profileID)
	if err != nil {
		return err
	}
	if !at.After(current) {
		return nil
	}
	return s.client.Set(ctx, checkpointKey(profileID), at.UTC().Format(time.RFC3339Nano), 0).Err()
}

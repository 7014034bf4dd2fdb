package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"heirloom/internal/identity"
	"heirloom/pkg/platform/sentinel"
)

const keyPrefix = "verification:session:"

// Redis stores sessions with the TTL applied natively via key expiry, so
// expired sessions disappear without a sweep. Used when multiple service
// replicas share verification state.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) Save(ctx context.Context, sess identity.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sess.RequestID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Redis) FindByID(ctx context.Context, requestID string) (identity.Session, error) {
	payload, err := s.client.Get(ctx, keyPrefix+requestID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return identity.Session{}, sentinel.ErrNotFound
		}
		return identity.Session{}, fmt.Errorf("find session: %w", err)
	}
	var sess identity.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return identity.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

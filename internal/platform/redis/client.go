// Package redis builds the shared go-redis client for the session store.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// New connects a client from a redis URL and verifies the connection with a
// ping before handing it out, so a bad URL fails at startup rather than on
// the first verification request.
func New(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

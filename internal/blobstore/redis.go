// internal/blobstore/redis.go
package blobstore

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/appchainio/agentd/pkg/errors"
)

// Blob key prefix in Redis
const blobKeyPrefix = "blob:"

// Redis is a Redis-backed blob store.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a blob store over an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Put stores data under its content id.
func (r *Redis) Put(ctx context.Context, data []byte) (string, error) {
	id := ContentID(data)
	if err := r.client.Set(ctx, blobKeyPrefix+id, data, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store blob %s: %w", id, err)
	}
	return id, nil
}

// Get returns stored content by id.
func (r *Redis) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := r.client.Get(ctx, blobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, errors.WrapWithDomain(errors.ErrNotFound, "blobstore")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %s: %w", id, err)
	}
	return data, nil
}

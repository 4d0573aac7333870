package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheImage stores an item -> image URL mapping with a TTL
func (s *Store) CacheImage(ctx context.Context, id, imageURL string, ttl time.Duration) error {
	if err := s.client.Set(ctx, ImageKey(id), imageURL, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache image: %w", err)
	}
	return nil
}

// GetCachedImage retrieves a cached image URL, "" on miss
func (s *Store) GetCachedImage(ctx context.Context, id string) (string, error) {
	v, err := s.client.Get(ctx, ImageKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil // Cache miss
		}
		return "", fmt.Errorf("failed to get cached image: %w", err)
	}
	return v, nil
}

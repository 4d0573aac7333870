package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OfflineSet is the persisted offline queue. Set semantics come from SADD.
type OfflineSet struct {
	client *redis.Client
}

// Offline returns the offline queue view of the store
func (s *Store) Offline() *OfflineSet {
	return &OfflineSet{client: s.client}
}

func (o *OfflineSet) Add(ctx context.Context, id string) (bool, error) {
	n, err := o.client.SAdd(ctx, KeyOffline, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add offline entry: %w", err)
	}
	return n == 1, nil
}

func (o *OfflineSet) Remove(ctx context.Context, id string) error {
	if err := o.client.SRem(ctx, KeyOffline, id).Err(); err != nil {
		return fmt.Errorf("failed to remove offline entry: %w", err)
	}
	return nil
}

func (o *OfflineSet) Members(ctx context.Context) ([]string, error) {
	ids, err := o.client.SMembers(ctx, KeyOffline).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list offline entries: %w", err)
	}
	return ids, nil
}

func (o *OfflineSet) Len(ctx context.Context) (int, error) {
	n, err := o.client.SCard(ctx, KeyOffline).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count offline entries: %w", err)
	}
	return int(n), nil
}

package redis

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

// Store handles Redis persistence for the tracked item projection, sync
// metadata, alarms, the offline queue and cached images.
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// SaveItem stores a tracked item in Redis
func (s *Store) SaveItem(ctx context.Context, item *domain.TrackedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ItemKey(item.ID), data, 0)
	pipe.SAdd(ctx, AllItemsKey(), item.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// SaveItemsMany stores multiple items in one round trip
func (s *Store) SaveItemsMany(ctx context.Context, items []*domain.TrackedItem) error {
	if len(items) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()

	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item %s: %w", item.ID, err)
		}
		pipe.Set(ctx, ItemKey(item.ID), data, 0)
		pipe.SAdd(ctx, AllItemsKey(), item.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save items: %w", err)
	}
	return nil
}

// GetAllItems retrieves every tracked item. IDs whose payload is missing or
// unreadable are returned separately so the caller can clean them up.
func (s *Store) GetAllItems(ctx context.Context) ([]*domain.TrackedItem, []string, error) {
	ids, err := s.client.SMembers(ctx, AllItemsKey()).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get item IDs: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.TrackedItem{}, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ItemKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get items: %w", err)
	}

	items := make([]*domain.TrackedItem, 0, len(ids))
	var broken []string
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			broken = append(broken, ids[i])
			continue
		}
		var item domain.TrackedItem
		if err := json.Unmarshal([]byte(str), &item); err != nil || domain.InvalidID(item.ID) {
			broken = append(broken, ids[i])
			continue
		}
		items = append(items, &item)
	}
	return items, broken, nil
}

// DeleteItem removes an item with its sync metadata and cached image
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ItemKey(id), SyncKey(id), ImageKey(id))
	pipe.SRem(ctx, AllItemsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// SaveSyncMeta records the remote identifiers of a local item
func (s *Store) SaveSyncMeta(ctx context.Context, id string, meta domain.SyncMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal sync meta: %w", err)
	}
	if err := s.client.Set(ctx, SyncKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save sync meta: %w", err)
	}
	return nil
}

// GetAllSyncMeta loads sync metadata for the given ids; ids without metadata are skipped
func (s *Store) GetAllSyncMeta(ctx context.Context, ids []string) (map[string]domain.SyncMeta, error) {
	out := make(map[string]domain.SyncMeta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = SyncKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync meta: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var meta domain.SyncMeta
		if err := json.Unmarshal([]byte(str), &meta); err == nil {
			out[ids[i]] = meta
		}
	}
	return out, nil
}

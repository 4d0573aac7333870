package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlarmStore keeps named alarms in a sorted set scored by fire time.
// ZADD replaces the score of an existing member, so each name has at most one
// live fire time.
type AlarmStore struct {
	client *redis.Client
}

// Alarms returns the alarm view of the store
func (s *Store) Alarms() *AlarmStore {
	return &AlarmStore{client: s.client}
}

func (a *AlarmStore) Put(ctx context.Context, name string, at time.Time) error {
	if err := a.client.ZAdd(ctx, KeyAlarms, redis.Z{Score: float64(at.UnixMilli()), Member: name}).Err(); err != nil {
		return fmt.Errorf("failed to put alarm: %w", err)
	}
	return nil
}

func (a *AlarmStore) Remove(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]any, len(names))
	for i, n := range names {
		members[i] = n
	}
	if err := a.client.ZRem(ctx, KeyAlarms, members...).Err(); err != nil {
		return fmt.Errorf("failed to remove alarms: %w", err)
	}
	return nil
}

// List returns every alarm with its fire time
func (a *AlarmStore) List(ctx context.Context) (map[string]time.Time, error) {
	zs, err := a.client.ZRangeWithScores(ctx, KeyAlarms, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	out := make(map[string]time.Time, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		out[name] = time.UnixMilli(int64(z.Score)).UTC()
	}
	return out, nil
}

// PopDue removes and returns alarms due at or before now. A name is returned
// only by the caller whose ZREM removed it, so an alarm fires once even with
// several pollers.
func (a *AlarmStore) PopDue(ctx context.Context, now time.Time) ([]string, error) {
	names, err := a.client.ZRangeByScore(ctx, KeyAlarms, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due alarms: %w", err)
	}

	fired := make([]string, 0, len(names))
	for _, name := range names {
		n, err := a.client.ZRem(ctx, KeyAlarms, name).Result()
		if err != nil {
			return fired, fmt.Errorf("failed to claim alarm %s: %w", name, err)
		}
		if n == 1 {
			fired = append(fired, name)
		}
	}
	return fired, nil
}

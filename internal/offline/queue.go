// Package offline holds the ids of items whose scrape came due while the
// engine could not reach the network.
package offline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
)

// Store is a persisted set of item ids.
type Store interface {
	Add(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
	Members(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Enqueuer receives drained ids. The orchestrator implements it.
type Enqueuer interface {
	Enqueue(id string) bool
}

// Holder is implemented by enqueuers that can tell a duplicate refusal
// (the id is already queued or running) from a closed one.
type Holder interface {
	Busy(id string) bool
}

type Queue struct {
	store  Store
	logger logger.Logger
}

func New(store Store, log logger.Logger) *Queue {
	return &Queue{store: store, logger: log}
}

// Offer records id. Offering an id that is already queued is a no-op.
func (q *Queue) Offer(ctx context.Context, id string) error {
	added, err := q.store.Add(ctx, id)
	if err != nil {
		return fmt.Errorf("offline offer %s: %w", id, err)
	}
	if added {
		q.logger.Info("queued item for reconnect", logger.String("item_id", id))
	}
	q.refreshGauge(ctx)
	return nil
}

// Discard forgets id, used when an item stops being tracked.
func (q *Queue) Discard(ctx context.Context, id string) error {
	if err := q.store.Remove(ctx, id); err != nil {
		return err
	}
	q.refreshGauge(ctx)
	return nil
}

// DrainInto hands every queued id to e. Each id leaves the store before the
// hand-off, so a job that goes straight back offline can queue it again; an
// id e refuses without holding it is put back. It performs no network calls.
// The count of handed-over ids is returned.
func (q *Queue) DrainInto(ctx context.Context, e Enqueuer) (int, error) {
	ids, err := q.store.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("offline drain: %w", err)
	}
	sort.Strings(ids)

	holder, _ := e.(Holder)
	drained := 0
	for _, id := range ids {
		if err := q.store.Remove(ctx, id); err != nil {
			q.refreshGauge(ctx)
			return drained, fmt.Errorf("offline drain %s: %w", id, err)
		}
		if !e.Enqueue(id) && (holder == nil || !holder.Busy(id)) {
			if _, err := q.store.Add(ctx, id); err != nil {
				q.refreshGauge(ctx)
				return drained, fmt.Errorf("offline requeue %s: %w", id, err)
			}
			q.logger.Warn("scrape queue refused item, kept for next reconnect", logger.String("item_id", id))
			continue
		}
		drained++
	}
	if drained > 0 {
		q.logger.Info("drained offline queue", logger.Int("count", drained))
	}
	q.refreshGauge(ctx)
	return drained, nil
}

// Prune removes every queued id that keep rejects and returns how many went.
func (q *Queue) Prune(ctx context.Context, keep func(id string) bool) (int, error) {
	ids, err := q.store.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("offline prune: %w", err)
	}
	pruned := 0
	for _, id := range ids {
		if keep(id) {
			continue
		}
		if err := q.store.Remove(ctx, id); err != nil {
			return pruned, fmt.Errorf("offline prune %s: %w", id, err)
		}
		pruned++
	}
	if pruned > 0 {
		q.refreshGauge(ctx)
	}
	return pruned, nil
}

// Len returns the number of queued ids, 0 when the store is unreadable.
func (q *Queue) Len(ctx context.Context) int {
	n, err := q.store.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) refreshGauge(ctx context.Context) {
	if n, err := q.store.Len(ctx); err == nil {
		metrics.OfflineQueueSize.Set(float64(n))
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Add(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return false, nil
	}
	m.ids[id] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
	return nil
}

func (m *MemoryStore) Members(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	return out, nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids), nil
}

// Package projection is the local read model of tracked items: the memory
// index in front, Redis behind it so the projection survives restarts.
package projection

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/cache"
	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/index"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

// Persister is the durable side of the projection. *redis.Store implements it.
type Persister interface {
	SaveItem(ctx context.Context, item *domain.TrackedItem) error
	SaveItemsMany(ctx context.Context, items []*domain.TrackedItem) error
	GetAllItems(ctx context.Context) ([]*domain.TrackedItem, []string, error)
	DeleteItem(ctx context.Context, id string) error
	SaveSyncMeta(ctx context.Context, id string, meta domain.SyncMeta) error
	GetAllSyncMeta(ctx context.Context, ids []string) (map[string]domain.SyncMeta, error)
	CacheImage(ctx context.Context, id, imageURL string, ttl time.Duration) error
	GetCachedImage(ctx context.Context, id string) (string, error)
}

// Projection serves reads from memory and writes through to the Persister.
// A nil Persister keeps everything in memory.
type Projection struct {
	index    *index.MemoryIndex
	store    Persister
	images   *cache.TTL[string]
	imageTTL time.Duration
	logger   logger.Logger
	loaded   atomic.Bool
}

func New(idx *index.MemoryIndex, store Persister, imageTTL time.Duration, log logger.Logger) *Projection {
	return &Projection{
		index:    idx,
		store:    store,
		images:   cache.New[string](imageTTL, 0),
		imageTTL: imageTTL,
		logger:   log,
	}
}

// Load copies the persisted projection into memory and drops entries whose
// id is unusable or whose payload cannot be decoded.
func (p *Projection) Load(ctx context.Context) error {
	if p.store == nil {
		p.loaded.Store(true)
		return nil
	}

	p.logger.Info("loading tracked items from redis")

	items, broken, err := p.store.GetAllItems(ctx)
	if err != nil {
		return fmt.Errorf("load projection: %w", err)
	}

	for _, id := range broken {
		if err := p.store.DeleteItem(ctx, id); err != nil {
			p.logger.Warn("failed to drop invalid stored item",
				logger.String("item_id", id),
				logger.Error(err))
			continue
		}
		p.logger.Info("dropped invalid stored item", logger.String("item_id", id))
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	metas, err := p.store.GetAllSyncMeta(ctx, ids)
	if err != nil {
		return fmt.Errorf("load sync meta: %w", err)
	}

	p.index.ReplaceItems(items)
	for id, meta := range metas {
		p.index.SetSyncMeta(id, meta)
	}
	p.loaded.Store(true)

	p.logger.Info("loaded tracked items",
		logger.Int("count", len(items)),
		logger.Int("dropped", len(broken)))
	return nil
}

// Loaded reports whether Load has completed
func (p *Projection) Loaded() bool {
	return p.loaded.Load()
}

func (p *Projection) Items() []*domain.TrackedItem {
	return p.index.GetAllItems()
}

func (p *Projection) Get(id string) (*domain.TrackedItem, bool) {
	return p.index.GetItem(id)
}

func (p *Projection) Has(id string) bool {
	return p.index.Has(id)
}

func (p *Projection) Count() int {
	return p.index.Count()
}

// RemoteID returns the catalog id recorded for a local item, if any.
func (p *Projection) RemoteID(id string) (string, bool) {
	meta, ok := p.index.GetSyncMeta(id)
	if !ok || meta.RemoteID == "" {
		return "", false
	}
	return meta.RemoteID, true
}

// Put stores an item and, when remoteID is set, its sync metadata.
func (p *Projection) Put(ctx context.Context, item *domain.TrackedItem, remoteID string) error {
	p.index.PutItem(item)
	var meta domain.SyncMeta
	if remoteID != "" {
		meta = domain.SyncMeta{RemoteID: remoteID, LastSyncedAt: time.Now().UTC()}
		p.index.SetSyncMeta(item.ID, meta)
	}
	if p.store == nil {
		return nil
	}
	if err := p.store.SaveItem(ctx, item); err != nil {
		return err
	}
	if remoteID != "" {
		return p.store.SaveSyncMeta(ctx, item.ID, meta)
	}
	return nil
}

// Update applies fn to a stored item and persists the result.
func (p *Projection) Update(ctx context.Context, id string, fn func(*domain.TrackedItem)) (*domain.TrackedItem, error) {
	item, ok := p.index.UpdateItem(id, fn)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotTracked, id)
	}
	if p.store != nil {
		if err := p.store.SaveItem(ctx, item); err != nil {
			return item, err
		}
	}
	return item, nil
}

// Delete drops an item, its sync metadata and its cached image
func (p *Projection) Delete(ctx context.Context, id string) error {
	p.index.DeleteItem(id)
	p.images.Delete(id)
	if p.store == nil {
		return nil
	}
	return p.store.DeleteItem(ctx, id)
}

// Revision marks a point in the local write history. Pass it to Replace
// to protect writes made after it.
func (p *Projection) Revision() uint64 {
	return p.index.Revision()
}

// TouchedSince reports whether id was put, updated or deleted locally after
// revision since.
func (p *Projection) TouchedSince(id string, since uint64) bool {
	return p.index.TouchedSince(id, since)
}

// Replace makes the projection equal to a remote snapshot, keyed by local id,
// with the given remote ids. Items written locally after revision since keep
// their local state. It returns the ids that were dropped.
func (p *Projection) Replace(ctx context.Context, items []*domain.TrackedItem, remoteIDs map[string]string, since uint64) ([]string, error) {
	now := time.Now().UTC()
	meta := make(map[string]domain.SyncMeta, len(remoteIDs))
	for id, remote := range remoteIDs {
		meta[id] = domain.SyncMeta{RemoteID: remote, LastSyncedAt: now}
	}

	removed, localWins := p.index.ReplaceItemsSince(items, meta, since)
	for _, id := range removed {
		p.images.Delete(id)
	}
	if len(localWins) > 0 {
		p.logger.Debug("kept local writes newer than the remote snapshot",
			logger.Strings("item_ids", localWins))
	}

	if p.store == nil {
		return removed, nil
	}
	skip := make(map[string]struct{}, len(localWins))
	for _, id := range localWins {
		skip[id] = struct{}{}
	}
	persist := make([]*domain.TrackedItem, 0, len(items))
	for _, item := range items {
		if _, ok := skip[item.ID]; !ok {
			persist = append(persist, item)
		}
	}

	for _, id := range removed {
		if err := p.store.DeleteItem(ctx, id); err != nil {
			return removed, err
		}
	}
	if err := p.store.SaveItemsMany(ctx, persist); err != nil {
		return removed, err
	}
	for _, item := range persist {
		m, ok := meta[item.ID]
		if !ok {
			continue
		}
		if err := p.store.SaveSyncMeta(ctx, item.ID, m); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// ─────────────────────────────────────────────────────────────────
// Image cache
// ─────────────────────────────────────────────────────────────────

// RememberImage caches an item's image URL. Empty URLs are ignored.
func (p *Projection) RememberImage(ctx context.Context, id, imageURL string) {
	if imageURL == "" {
		return
	}
	p.images.Set(id, imageURL)
	if p.store == nil {
		return
	}
	if err := p.store.CacheImage(ctx, id, imageURL, p.imageTTL); err != nil {
		p.logger.Debug("failed to persist image", logger.String("item_id", id), logger.Error(err))
	}
}

// Image returns the cached image URL of an item, "" when unknown.
func (p *Projection) Image(ctx context.Context, id string) string {
	if v, ok := p.images.Get(id); ok {
		return v
	}
	if p.store == nil {
		return ""
	}
	v, err := p.store.GetCachedImage(ctx, id)
	if err != nil || v == "" {
		return ""
	}
	p.images.Set(id, v)
	return v
}

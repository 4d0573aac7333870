package index

import (
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

// MemoryIndex is the in-process copy of the tracked item projection and of
// the local id -> remote id map. Reads hand out clones so callers can never
// mutate shared state behind the lock.
type MemoryIndex struct {
	mu       sync.RWMutex
	items    map[string]*domain.TrackedItem // ID -> TrackedItem
	syncMeta map[string]domain.SyncMeta     // ID -> remote identifiers
	lastSync time.Time                      // Timestamp of the last full replacement
	revision uint64                         // bumped on every local write
	touched  map[string]uint64              // ID -> revision of its last local write, deletes included
}

// NewMemoryIndex creates a new memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		items:    make(map[string]*domain.TrackedItem),
		syncMeta: make(map[string]domain.SyncMeta),
		touched:  make(map[string]uint64),
	}
}

// ReplaceItems replaces all items in the index. Sync metadata of items that
// disappear is dropped with them.
func (idx *MemoryIndex) ReplaceItems(items []*domain.TrackedItem) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	next := make(map[string]*domain.TrackedItem, len(items))
	for _, item := range items {
		next[item.ID] = item.Clone()
	}
	for id := range idx.syncMeta {
		if _, ok := next[id]; !ok {
			delete(idx.syncMeta, id)
		}
	}
	idx.items = next
	idx.lastSync = time.Now()
}

// ReplaceItemsSince replaces the items with a remote snapshot taken after
// revision since. Items written locally after since keep their local state:
// they are neither overwritten, removed nor resurrected. It returns the ids
// dropped from the index and the ids where the local write won.
func (idx *MemoryIndex) ReplaceItemsSince(items []*domain.TrackedItem, meta map[string]domain.SyncMeta, since uint64) (removed, localWins []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	next := make(map[string]*domain.TrackedItem, len(items))
	for _, item := range items {
		if idx.touched[item.ID] > since {
			localWins = append(localWins, item.ID)
			if cur, ok := idx.items[item.ID]; ok {
				next[item.ID] = cur
			}
			continue
		}
		next[item.ID] = item.Clone()
		if m, ok := meta[item.ID]; ok {
			idx.syncMeta[item.ID] = m
		}
	}
	for id, cur := range idx.items {
		if _, ok := next[id]; ok {
			continue
		}
		if idx.touched[id] > since {
			next[id] = cur
			localWins = append(localWins, id)
			continue
		}
		removed = append(removed, id)
	}
	for id := range idx.syncMeta {
		if _, ok := next[id]; !ok {
			delete(idx.syncMeta, id)
		}
	}
	// passes are serialized, so older marks can no longer matter
	for id, rev := range idx.touched {
		if rev <= since {
			delete(idx.touched, id)
		}
	}
	idx.items = next
	idx.lastSync = time.Now()

	sort.Strings(removed)
	sort.Strings(localWins)
	return removed, localWins
}

// Revision returns the current local write revision.
func (idx *MemoryIndex) Revision() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.revision
}

// TouchedSince reports whether id was written locally after revision since.
func (idx *MemoryIndex) TouchedSince(id string, since uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.touched[id] > since
}

func (idx *MemoryIndex) touch(id string) {
	idx.revision++
	idx.touched[id] = idx.revision
}

// GetItem retrieves a copy of an item by ID
func (idx *MemoryIndex) GetItem(id string) (*domain.TrackedItem, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	item, ok := idx.items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// Has reports whether id is tracked
func (idx *MemoryIndex) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, ok := idx.items[id]
	return ok
}

// GetAllItems returns copies of all items, ordered by ID
func (idx *MemoryIndex) GetAllItems() []*domain.TrackedItem {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	items := make([]*domain.TrackedItem, 0, len(idx.items))
	for _, item := range idx.items {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// PutItem adds or updates a single item
func (idx *MemoryIndex) PutItem(item *domain.TrackedItem) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.items[item.ID] = item.Clone()
	idx.touch(item.ID)
}

// UpdateItem applies fn to the stored item under the write lock. It returns
// the updated copy, or false when the item is gone.
func (idx *MemoryIndex) UpdateItem(id string, fn func(*domain.TrackedItem)) (*domain.TrackedItem, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	item, ok := idx.items[id]
	if !ok {
		return nil, false
	}
	fn(item)
	idx.touch(id)
	return item.Clone(), true
}

// DeleteItem removes an item and its sync metadata
func (idx *MemoryIndex) DeleteItem(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.items, id)
	delete(idx.syncMeta, id)
	idx.touch(id)
}

// Count returns the number of items in the index
func (idx *MemoryIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.items)
}

// GetLastSync returns the timestamp of the last full replacement
func (idx *MemoryIndex) GetLastSync() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastSync
}

// ─────────────────────────────────────────────────────────────────
// Sync metadata
// ─────────────────────────────────────────────────────────────────

// SetSyncMeta records the remote identifiers of an item
func (idx *MemoryIndex) SetSyncMeta(id string, meta domain.SyncMeta) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.syncMeta[id] = meta
}

// GetSyncMeta returns the remote identifiers of an item
func (idx *MemoryIndex) GetSyncMeta(id string) (domain.SyncMeta, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	meta, ok := idx.syncMeta[id]
	return meta, ok
}

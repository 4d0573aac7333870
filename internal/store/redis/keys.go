package redis

const (
	// KeyPrefixItem is the prefix for tracked item projection keys
	KeyPrefixItem = "qb:item:"
	// KeyPrefixSync is the prefix for per-item sync metadata keys
	KeyPrefixSync = "qb:sync:"
	// KeyPrefixImage is the prefix for cached product image URLs
	KeyPrefixImage = "qb:image:"
	// KeyAllItems is the key for the set of all tracked item IDs
	KeyAllItems = "qb:items:all"
	// KeyAlarms is the sorted set of alarm name -> fire time (unix ms)
	KeyAlarms = "qb:alarms"
	// KeyOffline is the set of item IDs waiting for connectivity
	KeyOffline = "qb:offline"
)

// ItemKey returns the Redis key for a tracked item by ID
func ItemKey(id string) string {
	return KeyPrefixItem + id
}

// SyncKey returns the Redis key for an item's sync metadata
func SyncKey(id string) string {
	return KeyPrefixSync + id
}

// ImageKey returns the Redis key for a cached image URL
func ImageKey(id string) string {
	return KeyPrefixImage + id
}

// AllItemsKey returns the key for the set of all tracked item IDs
func AllItemsKey() string {
	return KeyAllItems
}

package treecache

import "time"

// item is a single cached value plus its bookkeeping. The zero lastSave
// means "never persisted"; dirty==false implies lastSave is set and the
// in-memory data matched the backing store at that time.
type item[V any] struct {
	key        string // local key, immutable after creation
	data       V
	lastAccess time.Time
	lastSave   time.Time
	dirty      bool
}

// newItem creates a dirty, never-persisted item (the Put path).
func newItem[V any](key string, data V, now time.Time) *item[V] {
	return &item[V]{key: key, data: data, lastAccess: now, dirty: true}
}

// newLoadedItem creates a clean item for a value just read from the
// backing store (the Fetch path).
func newLoadedItem[V any](key string, data V, now time.Time) *item[V] {
	return &item[V]{key: key, data: data, lastAccess: now, lastSave: now}
}

func (it *item[V]) touch(now time.Time) { it.lastAccess = now }

// update overwrites the payload in place and marks the item dirty.
func (it *item[V]) update(data V, now time.Time) {
	it.data = data
	it.lastAccess = now
	it.dirty = true
}

// markSaved records a successful persistence of the current payload.
func (it *item[V]) markSaved(now time.Time) {
	it.lastSave = now
	it.dirty = false
}

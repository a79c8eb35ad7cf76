package treecache

import (
	"context"
	"sync"
	"time"

	"github.com/fernwood/treecache/internal/keypath"
)

// entry is one slot of a node's map: exactly one of item or child is set.
// Tree-walking code dispatches on the tag, never on runtime type.
type entry[V any] struct {
	item  *item[V]
	child *Cache[V]
}

// Cache is one node of the cache tree. A node owns its entries map
// exclusively: descendants and ancestors never mutate it directly, and a
// child node is reachable only through its parent's map, so the tree is
// acyclic by construction.
//
// Synchronous operations (Get, Has, Put, Free) touch memory only. The
// operations that may suspend (Fetch, Store, Delete, Exists, the sweeps)
// invoke hooks outside the node lock; see Fetch for the miss-coalescing
// caveat that follows from that.
type Cache[V any] struct {
	mu      sync.Mutex
	prefix  string // ends in sep; full key of an item = prefix + localKey
	sep     string
	entries map[string]entry[V]

	loader  LoadFunc[V]
	saver   SaveFunc[V]
	checker CheckFunc
	deleter DeleteFunc
	reviver ReviveFunc[V]

	log    Logger
	events Events[V]
}

type nodeConfig[V any] struct {
	sep     string
	prefix  string
	loader  LoadFunc[V]
	saver   SaveFunc[V]
	checker CheckFunc
	deleter DeleteFunc
	reviver ReviveFunc[V]
	log     Logger
	events  Events[V]
}

func newNode[V any](cfg nodeConfig[V]) *Cache[V] {
	return &Cache[V]{
		prefix:  cfg.prefix,
		sep:     cfg.sep,
		entries: make(map[string]entry[V]),
		loader:  cfg.loader,
		saver:   cfg.saver,
		checker: cfg.checker,
		deleter: cfg.deleter,
		reviver: cfg.reviver,
		log:     cfg.log,
		events:  cfg.events,
	}
}

// Prefix returns the node's namespace prefix (always ends in the separator).
func (c *Cache[V]) Prefix() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefix
}

// fullKey must be called with c.mu held.
func (c *Cache[V]) fullKey(local string) string { return c.prefix + local }

// Get returns the locally cached value for key and refreshes its access
// time. Memory only; the backing store is never consulted.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.item != nil {
		e.item.touch(time.Now())
		return e.item.data, true
	}
	var zero V
	return zero, false
}

// Has reports local membership (item or subcache). Memory only.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Put writes value to memory only. An existing item is updated in place;
// otherwise a fresh dirty item is created. The saver is never called:
// persistence is deferred to Store, Backup or Cleanup.
func (c *Cache[V]) Put(key string, value V) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.item != nil {
		e.item.update(value, now)
		return
	}
	c.entries[key] = entry[V]{item: newItem(key, value, now)}
}

// Fetch returns the value for key, populating from the backing store on a
// miss. A resident entry is returned without touching the loader. A failed
// load is swallowed: the LoadError event fires and Fetch reports absent,
// indistinguishable from "not found".
//
// Concurrent misses on the same key are not coalesced: each caller invokes
// the loader and the last insert wins the map slot.
func (c *Cache[V]) Fetch(ctx context.Context, key string) (V, bool) {
	var zero V
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		defer c.mu.Unlock()
		if e.item != nil {
			e.item.touch(time.Now())
			return e.item.data, true
		}
		return zero, false // slot holds a subcache
	}
	// snapshot everything read after the unlock; Configure may rewrite
	// these fields concurrently
	loader := c.loader
	reviver := c.reviver
	log := c.log
	events := c.events
	full := c.fullKey(key)
	c.mu.Unlock()

	if loader == nil {
		return zero, false
	}
	v, ok, err := loader(ctx, full)
	if err != nil {
		log.Debug("load failed", Fields{"key": full, "err": err})
		events.LoadError(full, &HookError{Op: "load", Key: full, Err: err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	if reviver != nil {
		v = reviver(v)
	}

	c.mu.Lock()
	// last-write-wins on the slot when misses raced
	c.entries[key] = entry[V]{item: newLoadedItem(key, v, time.Now())}
	c.mu.Unlock()
	return v, true
}

// Store writes value to memory and immediately marks it saved (optimistic
// local commit), then invokes the saver if one is set. The saver's failure
// is returned as the outcome, never as a panic or a lost rejection;
// the local write stands either way.
func (c *Cache[V]) Store(ctx context.Context, key string, value V) error {
	now := time.Now()
	c.mu.Lock()
	it := newItem(key, value, now)
	it.markSaved(now)
	c.entries[key] = entry[V]{item: it}
	saver := c.saver
	log := c.log
	full := c.fullKey(key)
	c.mu.Unlock()

	if saver == nil {
		return nil
	}
	if err := saver(ctx, full, value); err != nil {
		log.Warn("save failed", Fields{"key": full, "err": err})
		return &HookError{Op: "save", Key: full, Err: err}
	}
	return nil
}

// Delete removes the local entry (item or subcache), then invokes the
// deleter if one is set, with the same outcome-not-failure contract as
// Store. Removal happens even when the backend delete fails.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	deleter := c.deleter
	log := c.log
	full := c.fullKey(key)
	c.mu.Unlock()

	if deleter == nil {
		return nil
	}
	if _, err := deleter(ctx, full); err != nil {
		log.Warn("delete failed", Fields{"key": full, "err": err})
		return &HookError{Op: "delete", Key: full, Err: err}
	}
	return nil
}

// Free drops the local entry without ever invoking the deleter.
// Memory-only eviction.
func (c *Cache[V]) Free(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Exists reports whether key is present locally or, failing that, in the
// backing store per the checker. Without a checker a miss is final.
func (c *Cache[V]) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	_, ok := c.entries[key]
	checker := c.checker
	full := c.fullKey(key)
	c.mu.Unlock()
	if ok {
		return true, nil
	}
	if checker == nil {
		return false, nil
	}
	found, err := checker(ctx, full)
	if err != nil {
		return false, &HookError{Op: "check", Key: full, Err: err}
	}
	return found, nil
}

// Len returns the number of local entries (items and subcaches).
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns a snapshot of the local keys, in no particular order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// SubcacheOption tunes subcache creation.
type SubcacheOption[V any] func(*nodeConfig[V])

// WithReviver sets the child's reviver for freshly loaded values.
func WithReviver[V any](r ReviveFunc[V]) SubcacheOption[V] {
	return func(cfg *nodeConfig[V]) { cfg.reviver = r }
}

// Subcache returns the child node at key, creating it when absent. The
// local key is normalized to end in the separator, so creation is
// idempotent: calling Subcache twice with the same key yields the same
// node. A new child inherits this node's current hooks, logger and event
// sink by value; later Configure calls on the parent reach it only with
// propagation enabled.
func (c *Cache[V]) Subcache(key string, opts ...SubcacheOption[V]) *Cache[V] {
	c.mu.Lock()
	local := keypath.Normalize(key, c.sep)
	if e, ok := c.entries[local]; ok && e.child != nil {
		c.mu.Unlock()
		return e.child
	}

	cfg := nodeConfig[V]{
		sep:     c.sep,
		prefix:  keypath.Join(c.prefix, key, c.sep),
		loader:  c.loader,
		saver:   c.saver,
		checker: c.checker,
		deleter: c.deleter,
		log:     c.log,
		events:  c.events,
	}
	for _, o := range opts {
		o(&cfg)
	}
	child := newNode(cfg)
	c.entries[local] = entry[V]{child: child}
	events := c.events
	c.mu.Unlock()

	events.SubcacheCreated(c, cfg.prefix)
	return child
}

// Update carries partial reconfiguration for Configure. Only non-nil
// fields are applied; a hook set once cannot be cleared back to absent
// through Update.
type Update[V any] struct {
	Loader  LoadFunc[V]
	Saver   SaveFunc[V]
	Checker CheckFunc
	Deleter DeleteFunc
	Reviver ReviveFunc[V]

	// Store binds all four hooks at once; individually set fields above
	// take precedence.
	Store Store[V]

	Logger Logger
	Events Events[V]

	// Key, when non-nil, replaces the node's namespace prefix (normalized
	// to end in the separator).
	Key *string
}

// Configure overwrites this node's hooks with the non-nil fields of u.
// With propagate, the same update recurses into every child subcache; when
// u carries a new namespace key, each child receives a key recomputed from
// the new prefix and its existing local key, so the whole subtree is
// renamed consistently. Non-subcache entries are never descended into.
//
// The separator is deliberately not part of Update: it is fixed at root
// construction, and existing subcache keys could not be rewritten safely
// under a different separator.
func (c *Cache[V]) Configure(u Update[V], propagate bool) {
	if s := u.Store; s != nil {
		if u.Loader == nil {
			u.Loader = s.Load
		}
		if u.Saver == nil {
			u.Saver = s.Save
		}
		if u.Checker == nil {
			u.Checker = s.Contains
		}
		if u.Deleter == nil {
			u.Deleter = s.Remove
		}
	}

	c.mu.Lock()
	if u.Loader != nil {
		c.loader = u.Loader
	}
	if u.Saver != nil {
		c.saver = u.Saver
	}
	if u.Checker != nil {
		c.checker = u.Checker
	}
	if u.Deleter != nil {
		c.deleter = u.Deleter
	}
	if u.Reviver != nil {
		c.reviver = u.Reviver
	}
	if u.Logger != nil {
		c.log = u.Logger
	}
	if u.Events != nil {
		c.events = u.Events
	}

	keyChanged := false
	if u.Key != nil {
		next := keypath.Normalize(*u.Key, c.sep)
		keyChanged = next != c.prefix
		c.prefix = next
	}

	if !propagate {
		c.mu.Unlock()
		return
	}

	type childRef struct {
		local string
		node  *Cache[V]
	}
	var children []childRef
	for local, e := range c.entries {
		if e.child != nil {
			children = append(children, childRef{local: local, node: e.child})
		}
	}
	prefix := c.prefix
	c.mu.Unlock()

	for _, ch := range children {
		cu := u
		cu.Key = nil
		if keyChanged {
			// child local keys already end in the separator
			next := prefix + ch.local
			cu.Key = &next
		}
		ch.node.Configure(cu, true)
	}
}

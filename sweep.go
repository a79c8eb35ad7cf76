package treecache

import (
	"context"
	"sync"
	"time"
)

// saveJob is one pending persistence dispatched by a sweep.
type saveJob[V any] struct {
	key  string // full key
	data V
}

// Backup persists every dirty item whose time since last save exceeds
// maxAge, recursing into subcaches. All saves of one node are dispatched
// concurrently and joined before the node resolves; a child's whole sweep
// joins as one unit. The returned slice holds one element per dispatched
// save across the subtree, nil on success, *HookError on failure; the
// BackupDone event fires once per visited node with that node's slice.
//
// A node with no saver resolves immediately with no side effects. A
// successfully backed-up item is NOT marked saved: it stays dirty and a
// later backup within the window saves it again.
func (c *Cache[V]) Backup(ctx context.Context, maxAge time.Duration) []error {
	c.mu.Lock()
	saver := c.saver
	if saver == nil {
		c.mu.Unlock()
		return nil
	}

	now := time.Now()
	var jobs []saveJob[V]
	var children []*Cache[V]
	// snapshot under the lock; the walk below must not observe concurrent
	// map mutation, and the log/event sinks may be swapped by Configure
	log := c.log
	events := c.events
	for local, e := range c.entries {
		switch {
		case e.child != nil:
			children = append(children, e.child)
		case e.item.dirty && now.Sub(e.item.lastSave) > maxAge:
			jobs = append(jobs, saveJob[V]{key: c.fullKey(local), data: e.item.data})
		}
	}
	c.mu.Unlock()

	outcomes := join(ctx, log, saver, jobs, children, func(ch *Cache[V]) []error {
		return ch.Backup(ctx, maxAge)
	})
	events.BackupDone(c, outcomes)
	return outcomes
}

// Cleanup evicts every item whose time since last access exceeds maxAge,
// recursing into subcaches rather than evicting them. An evicted item is
// removed from the node before its save is dispatched, so an interleaved
// Get or Put never observes a half-evicted entry and a new write to the
// same key cannot race the save. Dirty evictees are persisted with the
// same outcome contract as Backup; clean ones are simply dropped. The
// CleanupDone event fires once per visited node.
//
// A node with no saver falls back to a memory-only walk that drops expired
// items without consulting the dirty flag. Unsaved writes are lost there.
func (c *Cache[V]) Cleanup(ctx context.Context, maxAge time.Duration) []error {
	c.mu.Lock()
	saver := c.saver
	if saver == nil {
		c.mu.Unlock()
		c.cleanNoSave(maxAge)
		return nil
	}

	now := time.Now()
	var jobs []saveJob[V]
	var children []*Cache[V]
	log := c.log
	events := c.events
	for local, e := range c.entries {
		switch {
		case e.child != nil:
			children = append(children, e.child)
		case now.Sub(e.item.lastAccess) > maxAge:
			// eviction precedes persistence
			delete(c.entries, local)
			if e.item.dirty {
				jobs = append(jobs, saveJob[V]{key: c.fullKey(local), data: e.item.data})
			}
		}
	}
	c.mu.Unlock()

	outcomes := join(ctx, log, saver, jobs, children, func(ch *Cache[V]) []error {
		return ch.Cleanup(ctx, maxAge)
	})
	events.CleanupDone(c, outcomes)
	return outcomes
}

// cleanNoSave drops expired items across the subtree without persistence.
func (c *Cache[V]) cleanNoSave(maxAge time.Duration) {
	c.mu.Lock()
	now := time.Now()
	events := c.events
	var children []*Cache[V]
	for local, e := range c.entries {
		switch {
		case e.child != nil:
			children = append(children, e.child)
		case now.Sub(e.item.lastAccess) > maxAge:
			delete(c.entries, local)
		}
	}
	c.mu.Unlock()

	for _, ch := range children {
		ch.cleanNoSave(maxAge)
	}
	events.CleanupDone(c, nil)
}

// join fans out the node's saves and child sweeps concurrently, waits for
// all of them to settle, and flattens the results into one outcome slice.
// Save failures are converted to values; nothing escapes the join. The
// logger is the caller's under-lock snapshot.
func join[V any](ctx context.Context, log Logger, saver SaveFunc[V], jobs []saveJob[V], children []*Cache[V], sweep func(*Cache[V]) []error) []error {
	outcomes := make([]error, len(jobs))
	childOutcomes := make([][]error, len(children))

	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j saveJob[V]) {
			defer wg.Done()
			if err := saver(ctx, j.key, j.data); err != nil {
				log.Warn("sweep save failed", Fields{"key": j.key, "err": err})
				outcomes[i] = &HookError{Op: "save", Key: j.key, Err: err}
			}
		}(i, j)
	}
	for i, ch := range children {
		wg.Add(1)
		go func(i int, ch *Cache[V]) {
			defer wg.Done()
			childOutcomes[i] = sweep(ch)
		}(i, ch)
	}
	wg.Wait()

	for _, co := range childOutcomes {
		outcomes = append(outcomes, co...)
	}
	return outcomes
}

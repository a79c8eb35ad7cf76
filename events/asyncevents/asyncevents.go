// Package asyncevents delivers treecache events off the caller's
// goroutine through a bounded queue. When the queue is full, events are
// dropped rather than blocking a cache operation.
//
// usage:
//
//	sink := asyncevents.New[User](raw, 1, 1000) // 1 worker; queue 1000 events
//	defer sink.Close()
//
//	c := treecache.New(treecache.Options[User]{Events: sink})
package asyncevents

import (
	"sync"

	"github.com/fernwood/treecache"
)

type Events[V any] struct {
	inner treecache.Events[V]
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ treecache.Events[struct{}] = (*Events[struct{}])(nil)

func New[V any](inner treecache.Events[V], workers, qlen int) *Events[V] {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	e := &Events[V]{inner: inner, q: make(chan func(), qlen)}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer e.wg.Done()
			for f := range e.q {
				f()
			}
		}()
	}
	return e
}

// Close drains the queue and stops the workers.
func (e *Events[V]) Close() {
	e.once.Do(func() {
		close(e.q)
		e.wg.Wait()
	})
}

func (e *Events[V]) try(f func()) {
	select {
	case e.q <- f:
	default: // drop
	}
}

func (e *Events[V]) SubcacheCreated(parent *treecache.Cache[V], key string) {
	e.try(func() { e.inner.SubcacheCreated(parent, key) })
}

func (e *Events[V]) LoadError(key string, err error) {
	e.try(func() { e.inner.LoadError(key, err) })
}

func (e *Events[V]) BackupDone(node *treecache.Cache[V], outcomes []error) {
	e.try(func() { e.inner.BackupDone(node, outcomes) })
}

func (e *Events[V]) CleanupDone(node *treecache.Cache[V], outcomes []error) {
	e.try(func() { e.inner.CleanupDone(node, outcomes) })
}

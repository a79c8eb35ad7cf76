package treecache

// Events receives lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the cache calls them
// synchronously, some on hot paths. Wrap with events/asyncevents to move
// delivery off the caller's goroutine.
//
// A subcache inherits its parent's sink at creation; past events are not
// replayed to late subscribers.
type Events[V any] interface {
	// A subcache was created under parent. key is the child's full
	// namespace prefix.
	SubcacheCreated(parent *Cache[V], key string)

	// A loader invocation failed during Fetch. The miss is swallowed and
	// the caller observes "absent"; this event is the only failure signal.
	LoadError(key string, err error)

	// A backup sweep finished on node. outcomes holds one element per
	// dispatched save across node and its descendants; nil means success.
	BackupDone(node *Cache[V], outcomes []error)

	// A cleanup sweep finished on node, same outcome shape as BackupDone.
	CleanupDone(node *Cache[V], outcomes []error)
}

// NopEvents is the default no-op sink.
type NopEvents[V any] struct{}

func (NopEvents[V]) SubcacheCreated(*Cache[V], string) {}
func (NopEvents[V]) LoadError(string, error)           {}
func (NopEvents[V]) BackupDone(*Cache[V], []error)     {}
func (NopEvents[V]) CleanupDone(*Cache[V], []error)    {}

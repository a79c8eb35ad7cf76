package treecache

import (
	"context"

	"github.com/fernwood/treecache/internal/keypath"
)

// DefaultSeparator joins namespace segments when Options.Separator is empty.
const DefaultSeparator = ":"

// LoadFunc fetches a value from the backing store. ok=false means
// "not found"; any returned error is swallowed by Fetch and reported
// through the LoadError event.
type LoadFunc[V any] func(ctx context.Context, key string) (v V, ok bool, err error)

// SaveFunc persists a value. Its error is never propagated as a failure of
// the cache itself; it becomes the resolved outcome of Store or a sweep.
type SaveFunc[V any] func(ctx context.Context, key string, value V) error

// CheckFunc probes the backing store for existence without loading.
type CheckFunc func(ctx context.Context, key string) (bool, error)

// DeleteFunc removes a key from the backing store. The bool reports
// whether the backend held the key.
type DeleteFunc func(ctx context.Context, key string) (bool, error)

// ReviveFunc transforms a value freshly loaded from the backing store
// before it is cached. It is never applied to values already in memory.
type ReviveFunc[V any] func(v V) V

// Store bundles the four capability hooks behind one backend. Assigning
// Options.Store (or Update.Store) binds every hook a field does not
// override individually.
type Store[V any] interface {
	Load(ctx context.Context, key string) (v V, ok bool, err error)
	Save(ctx context.Context, key string, value V) error
	Contains(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) (bool, error)
}

// Options configure a root cache node. Every field is optional: a cache
// with no hooks degrades to a memory-only tree.
type Options[V any] struct {
	// Key is the root namespace key; it is normalized to end in the
	// separator. Empty means the bare separator.
	Key string
	// Separator joins namespace segments. Fixed for the whole tree at
	// root construction; "" => DefaultSeparator. See Configure for why
	// it cannot be changed per subtree.
	Separator string

	Loader  LoadFunc[V]
	Saver   SaveFunc[V]
	Checker CheckFunc
	Deleter DeleteFunc
	Reviver ReviveFunc[V]

	// Store binds all four hooks from one backend. Individually set hook
	// fields above take precedence.
	Store Store[V]

	Logger Logger    // nil => NopLogger
	Events Events[V] // nil => NopEvents
}

// New builds the root node of a cache tree.
func New[V any](opts Options[V]) *Cache[V] {
	if s := opts.Store; s != nil {
		if opts.Loader == nil {
			opts.Loader = s.Load
		}
		if opts.Saver == nil {
			opts.Saver = s.Save
		}
		if opts.Checker == nil {
			opts.Checker = s.Contains
		}
		if opts.Deleter == nil {
			opts.Deleter = s.Remove
		}
	}
	sep := coalesce(opts.Separator, DefaultSeparator)
	return newNode[V](nodeConfig[V]{
		sep:     sep,
		prefix:  keypath.Normalize(opts.Key, sep),
		loader:  opts.Loader,
		saver:   opts.Saver,
		checker: opts.Checker,
		deleter: opts.Deleter,
		reviver: opts.Reviver,
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		events:  coalesce[Events[V]](opts.Events, NopEvents[V]{}),
	})
}

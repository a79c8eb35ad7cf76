package treecache

import "fmt"

// HookError wraps a failure from a capability hook. The cache never lets a
// hook failure escape as a panic or a lost rejection: Store and Delete
// return it as their resolved outcome, sweeps place it in their outcome
// slice, and Fetch reports it through the LoadError event.
type HookError struct {
	Op  string // "load", "save", "check" or "delete"
	Key string // full (namespaced) key handed to the hook
	Err error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("treecache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

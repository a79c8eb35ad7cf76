package treecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mapStore is an in-memory Store used to exercise the hook-binding path.
type mapStore[V any] struct {
	mu      sync.Mutex
	m       map[string]V
	loads   int
	saves   int
	checks  int
	removes int
	saveErr error
}

var _ Store[string] = (*mapStore[string])(nil)

func newMapStore[V any]() *mapStore[V] { return &mapStore[V]{m: make(map[string]V)} }

func (s *mapStore[V]) Load(_ context.Context, key string) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *mapStore[V]) Save(_ context.Context, key string, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.m[key] = value
	return nil
}

func (s *mapStore[V]) Contains(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	_, ok := s.m[key]
	return ok, nil
}

func (s *mapStore[V]) Remove(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removes++
	_, ok := s.m[key]
	delete(s.m, key)
	return ok, nil
}

// recorder collects events for assertions.
type recorder[V any] struct {
	mu        sync.Mutex
	subcaches []string
	loadErrs  []string
	backups   [][]error
	cleanups  [][]error
}

var _ Events[string] = (*recorder[string])(nil)

func (r *recorder[V]) SubcacheCreated(_ *Cache[V], key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subcaches = append(r.subcaches, key)
}

func (r *recorder[V]) LoadError(key string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErrs = append(r.loadErrs, key)
}

func (r *recorder[V]) BackupDone(_ *Cache[V], outcomes []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups = append(r.backups, outcomes)
}

func (r *recorder[V]) CleanupDone(_ *Cache[V], outcomes []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, outcomes)
}

// reach into the node to inspect or backdate a single item.
func withItem[V any](t *testing.T, c *Cache[V], key string, f func(*item[V])) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.item == nil {
		t.Fatalf("no item at %q", key)
	}
	f(e.item)
}

// ==============================
// Memory-only operations
// ==============================

// TestMemoryOnlyNode exercises a node without any hooks: Put/Get/Has work
// and Exists answers from memory without a checker.
func TestMemoryOnlyNode(t *testing.T) {
	ctx := context.Background()
	c := New(Options[int]{})

	c.Put("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get = %v, %v; want 1, true", v, ok)
	}
	if !c.Has("a") {
		t.Fatal("Has = false after Put")
	}
	if ok, err := c.Exists(ctx, "a"); err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true, nil", ok, err)
	}
	if ok, err := c.Exists(ctx, "b"); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v; want false, nil", ok, err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestPutUpdatesInPlaceAndMarksDirty(t *testing.T) {
	c := New(Options[string]{})
	c.Put("k", "v1")
	c.Put("k", "v2")

	if v, _ := c.Get("k"); v != "v2" {
		t.Fatalf("Get = %q, want v2", v)
	}
	withItem(t, c, "k", func(it *item[string]) {
		if !it.dirty {
			t.Fatal("item not dirty after Put")
		}
		if !it.lastSave.IsZero() {
			t.Fatal("lastSave set without a save")
		}
	})
}

func TestGetRefreshesAccessTime(t *testing.T) {
	c := New(Options[string]{})
	c.Put("k", "v")
	past := time.Now().Add(-time.Hour)
	withItem(t, c, "k", func(it *item[string]) { it.lastAccess = past })

	c.Get("k")
	withItem(t, c, "k", func(it *item[string]) {
		if !it.lastAccess.After(past) {
			t.Fatal("Get did not refresh lastAccess")
		}
	})
}

// ==============================
// Fetch
// ==============================

func TestFetchResidentSkipsLoader(t *testing.T) {
	ctx := context.Background()
	var loads atomic.Int32
	c := New(Options[string]{
		Loader: func(context.Context, string) (string, bool, error) {
			loads.Add(1)
			return "", false, nil
		},
	})

	c.Put("k", "v")
	if v, ok := c.Fetch(ctx, "k"); !ok || v != "v" {
		t.Fatalf("Fetch = %q, %v; want v, true", v, ok)
	}
	if loads.Load() != 0 {
		t.Fatalf("loader called %d times for resident key", loads.Load())
	}
}

func TestFetchMissPopulatesClean(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	st.m[":k"] = "stored"
	c := New(Options[string]{Store: st})

	v, ok := c.Fetch(ctx, "k")
	if !ok || v != "stored" {
		t.Fatalf("Fetch = %q, %v; want stored, true", v, ok)
	}
	withItem(t, c, "k", func(it *item[string]) {
		if it.dirty {
			t.Fatal("freshly loaded item is dirty")
		}
		if it.lastSave.IsZero() || !it.lastSave.Equal(it.lastAccess) {
			t.Fatalf("loaded item times: access=%v save=%v", it.lastAccess, it.lastSave)
		}
	})
	// resident now; no second load
	if _, ok := c.Fetch(ctx, "k"); !ok {
		t.Fatal("second Fetch missed")
	}
	if st.loads != 1 {
		t.Fatalf("loads = %d, want 1", st.loads)
	}
}

func TestFetchAppliesReviverToLoadedValuesOnly(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	st.m[":k"] = "raw"
	c := New(Options[string]{
		Store:   st,
		Reviver: func(v string) string { return v + "+revived" },
	})

	if v, _ := c.Fetch(ctx, "k"); v != "raw+revived" {
		t.Fatalf("Fetch = %q, want raw+revived", v)
	}

	c.Put("mem", "plain")
	if v, _ := c.Fetch(ctx, "mem"); v != "plain" {
		t.Fatalf("reviver applied to in-memory value: %q", v)
	}
}

func TestFetchMissWithoutLoader(t *testing.T) {
	c := New(Options[string]{})
	if v, ok := c.Fetch(context.Background(), "k"); ok || v != "" {
		t.Fatalf("Fetch = %q, %v; want absent", v, ok)
	}
}

func TestFetchNotFound(t *testing.T) {
	ctx := context.Background()
	c := New(Options[string]{Store: newMapStore[string]()})

	if _, ok := c.Fetch(ctx, "missing"); ok {
		t.Fatal("Fetch hit for missing key")
	}
	if c.Has("missing") {
		t.Fatal("miss left a residue entry")
	}
}

// TestFetchLoadErrorSwallowed: a failing loader is indistinguishable from a
// miss; the only signal is the LoadError event.
func TestFetchLoadErrorSwallowed(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend down")
	rec := &recorder[string]{}
	c := New(Options[string]{
		Loader: func(context.Context, string) (string, bool, error) {
			return "", false, boom
		},
		Events: rec,
	})

	if _, ok := c.Fetch(ctx, "k"); ok {
		t.Fatal("Fetch hit despite loader failure")
	}
	if c.Has("k") {
		t.Fatal("failed load left an entry")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.loadErrs) != 1 || rec.loadErrs[0] != ":k" {
		t.Fatalf("loadErrs = %v, want [:k]", rec.loadErrs)
	}
}

// TestFetchConcurrentMissesLastWriteWins: overlapping misses are not
// coalesced; each invokes the loader and the later insert keeps the slot.
func TestFetchConcurrentMissesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	gate := make(chan struct{})
	c := New(Options[string]{
		Loader: func(context.Context, string) (string, bool, error) {
			if calls.Add(1) == 1 {
				<-gate // first load resolves after the second
				return "first", true, nil
			}
			return "second", true, nil
		},
	})

	done := make(chan string)
	go func() {
		v, _ := c.Fetch(ctx, "k")
		done <- v
	}()
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if v, ok := c.Fetch(ctx, "k"); !ok || v != "second" {
		t.Fatalf("second Fetch = %q, %v", v, ok)
	}
	close(gate)
	if v := <-done; v != "first" {
		t.Fatalf("first Fetch = %q", v)
	}

	if calls.Load() != 2 {
		t.Fatalf("loader calls = %d, want 2", calls.Load())
	}
	if v, _ := c.Get("k"); v != "first" {
		t.Fatalf("slot = %q, want last write (first)", v)
	}
}

// ==============================
// Store / Delete / Free / Exists
// ==============================

func TestStoreWritesThroughAndMarksSaved(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	c := New(Options[string]{Store: st})

	if err := c.Store(ctx, "k", "v"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if st.m[":k"] != "v" {
		t.Fatalf("backend = %v", st.m)
	}
	if st.loads != 0 {
		t.Fatalf("Store triggered %d loads", st.loads)
	}
	withItem(t, c, "k", func(it *item[string]) {
		if it.dirty || it.lastSave.IsZero() {
			t.Fatalf("stored item dirty=%v lastSave=%v", it.dirty, it.lastSave)
		}
	})
}

// TestStoreSaverFailureIsOutcome: the saver's error comes back as the
// resolved value and the optimistic local write stands.
func TestStoreSaverFailureIsOutcome(t *testing.T) {
	ctx := context.Background()
	errDiskFull := errors.New("disk-full")
	st := newMapStore[string]()
	st.saveErr = errDiskFull
	c := New(Options[string]{Store: st})

	err := c.Store(ctx, "x", "v")
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("Store outcome = %v, want disk-full", err)
	}
	var he *HookError
	if !errors.As(err, &he) || he.Op != "save" || he.Key != ":x" {
		t.Fatalf("outcome = %#v, want save HookError for :x", err)
	}
	if v, ok := c.Get("x"); !ok || v != "v" {
		t.Fatalf("local write lost: %q, %v", v, ok)
	}
}

func TestStoreWithoutSaver(t *testing.T) {
	c := New(Options[string]{})
	if err := c.Store(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if v, _ := c.Get("k"); v != "v" {
		t.Fatalf("Get = %q", v)
	}
}

func TestDeleteRemovesLocallyAndRemotely(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	c := New(Options[string]{Store: st})

	_ = c.Store(ctx, "k", "v")
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c.Has("k") {
		t.Fatal("entry survived Delete")
	}
	if _, ok := st.m[":k"]; ok {
		t.Fatal("backend entry survived Delete")
	}
	if st.removes != 1 {
		t.Fatalf("removes = %d, want 1", st.removes)
	}
}

func TestFreeNeverCallsDeleter(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	c := New(Options[string]{Store: st})

	_ = c.Store(ctx, "k", "v")
	c.Free("k")
	if c.Has("k") {
		t.Fatal("entry survived Free")
	}
	if st.removes != 0 {
		t.Fatalf("Free called the deleter %d times", st.removes)
	}
	if _, ok := st.m[":k"]; !ok {
		t.Fatal("backend entry gone after memory-only Free")
	}
}

func TestExistsFallsBackToChecker(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	st.m[":cold"] = "v"
	c := New(Options[string]{Store: st})

	if ok, err := c.Exists(ctx, "cold"); err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}
	if st.checks != 1 {
		t.Fatalf("checks = %d, want 1", st.checks)
	}
	// still only in the backend; Exists does not populate
	if c.Has("cold") {
		t.Fatal("Exists populated the cache")
	}
}

func TestExistsCheckerError(t *testing.T) {
	boom := errors.New("probe failed")
	c := New(Options[string]{
		Checker: func(context.Context, string) (bool, error) { return false, boom },
	})
	_, err := c.Exists(context.Background(), "k")
	if !errors.Is(err, boom) {
		t.Fatalf("Exists err = %v, want wrapped probe failure", err)
	}
}

// ==============================
// Tree composition
// ==============================

// TestSubcacheIdempotent: creating the same subcache twice returns the
// identical node and fires a single SubcacheCreated event.
func TestSubcacheIdempotent(t *testing.T) {
	rec := &recorder[string]{}
	c := New(Options[string]{Events: rec})

	a := c.Subcache("users")
	b := c.Subcache("users")
	if a != b {
		t.Fatal("Subcache returned a different node for the same key")
	}
	if a.Prefix() != ":users:" {
		t.Fatalf("child prefix = %q, want :users:", a.Prefix())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.subcaches) != 1 || rec.subcaches[0] != ":users:" {
		t.Fatalf("subcreate events = %v", rec.subcaches)
	}
}

func TestSubcacheComposesFullKeys(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	c := New(Options[string]{Store: st})

	users := c.Subcache("users")
	sessions := users.Subcache("sessions")
	if err := sessions.Store(ctx, "42", "v"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := st.m[":users:sessions:42"]; !ok {
		t.Fatalf("backend keys = %v, want :users:sessions:42", st.m)
	}
}

func TestSubcacheReviverIsPerNode(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	st.m[":users:1"] = "raw"
	st.m[":1"] = "raw"
	c := New(Options[string]{Store: st})

	users := c.Subcache("users", WithReviver(func(v string) string { return v + "!" }))
	if v, _ := users.Fetch(ctx, "1"); v != "raw!" {
		t.Fatalf("child Fetch = %q", v)
	}
	if v, _ := c.Fetch(ctx, "1"); v != "raw" {
		t.Fatalf("root Fetch = %q, child reviver leaked", v)
	}
}

func TestConfigurePropagatesHooks(t *testing.T) {
	ctx := context.Background()
	c := New(Options[string]{})
	child := c.Subcache("sub")

	st := newMapStore[string]()
	c.Configure(Update[string]{Store: st}, true)

	if err := child.Store(ctx, "k", "v"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := st.m[":sub:k"]; !ok {
		t.Fatalf("propagated saver unused; backend = %v", st.m)
	}
}

func TestConfigureWithoutPropagateLeavesChildren(t *testing.T) {
	ctx := context.Background()
	c := New(Options[string]{})
	child := c.Subcache("sub")

	st := newMapStore[string]()
	c.Configure(Update[string]{Store: st}, false)

	_ = child.Store(ctx, "k", "v")
	if len(st.m) != 0 {
		t.Fatalf("child acquired hooks without propagation: %v", st.m)
	}
}

// TestConfigureConcurrentWithOperations swaps reviver, logger, event sink
// and hooks while Fetch/Store and the sweeps are running. Exercised under
// the race detector this pins down that operations only use under-lock
// snapshots of those fields.
func TestConfigureConcurrentWithOperations(t *testing.T) {
	ctx := context.Background()
	st := newMapStore[string]()
	st.m[":k"] = "v"
	c := New(Options[string]{Store: st})
	sub := c.Subcache("sub")
	sub.Put("leaf", "v")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	ops := []func(){
		func() { c.Fetch(ctx, "k"); c.Free("k") },
		func() { _ = c.Store(ctx, "s", "v") },
		func() { _ = c.Backup(ctx, 0) },
		func() { _ = c.Cleanup(ctx, time.Hour) },
	}
	for _, op := range ops {
		wg.Add(1)
		go func(op func()) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					op()
				}
			}
		}(op)
	}

	for i := 0; i < 200; i++ {
		c.Configure(Update[string]{
			Reviver: func(v string) string { return v },
			Logger:  NopLogger{},
			Events:  &recorder[string]{},
			Saver:   st.Save,
		}, true)
	}
	close(stop)
	wg.Wait()
}

func TestConfigureRenamePropagatesPrefixes(t *testing.T) {
	c := New(Options[string]{})
	users := c.Subcache("users")
	sessions := users.Subcache("sessions")

	key := "app"
	c.Configure(Update[string]{Key: &key}, true)

	if got := c.Prefix(); got != "app:" {
		t.Fatalf("root prefix = %q", got)
	}
	if got := users.Prefix(); got != "app:users:" {
		t.Fatalf("child prefix = %q", got)
	}
	if got := sessions.Prefix(); got != "app:users:sessions:" {
		t.Fatalf("grandchild prefix = %q", got)
	}
}

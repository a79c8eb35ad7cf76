// Package treecache implements a hierarchical, write-back memory cache in
// front of an arbitrary backing store. The store is reached only through
// four optional hooks (load, save, check, delete) plus an optional reviver
// applied to freshly loaded values.
//
// Components:
//   - Cache[V]: one node of the cache tree. Holds items and child nodes in a
//     shared key namespace, populates lazily on miss, tracks dirty entries.
//   - Store[V]: adapter interface binding all four hooks from a real
//     backend (Redis, BigCache, Ristretto under backend/).
//   - Codec[V]: (de)serializes V <-> []byte for byte-store backends.
//   - Janitor: background loop running the backup/cleanup sweeps.
//
// Keys:
//
//	<prefix><localKey>       - items (prefix ends in the separator)
//	<prefix><localKey><sep>  - child nodes (subcache local keys are
//	                           normalized to end in the separator)
//
// Write-back pattern:
//
//	c := treecache.New(treecache.Options[User]{Store: st})
//	c.Put("u1", u)                    // memory only, marked dirty
//	_ = c.Backup(ctx, time.Minute)    // persist entries unsaved for 1m
//	_ = c.Cleanup(ctx, time.Hour)     // evict entries unread for 1h,
//	                                  // saving the dirty ones first
package treecache

// Package keypath composes namespaced cache keys. A namespace prefix
// always ends in the separator, so the full key of an item is the plain
// concatenation prefix+localKey.
package keypath

import "strings"

// Normalize returns key terminated by sep. Keys already ending in sep are
// returned unchanged, so Normalize is idempotent; the empty key becomes
// the bare separator.
func Normalize(key, sep string) string {
	if key == "" || !strings.HasSuffix(key, sep) {
		return key + sep
	}
	return key
}

// Join composes a child namespace under parent. The result always has
// parent as a prefix; an empty parent defaults to the bare separator.
func Join(parent, local, sep string) string {
	if parent == "" {
		parent = sep
	}
	return parent + Normalize(local, sep)
}

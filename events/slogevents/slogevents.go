// Package slogevents logs treecache events through log/slog, with
// sampling for the chatty ones and key redaction for the rest.
package slogevents

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/fernwood/treecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	LoadErrorEvery uint64
	SweepEvery     uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Events[V any] struct {
	l    *slog.Logger
	opts Options

	loadErrCtr atomic.Uint64
	sweepCtr   atomic.Uint64
}

var _ treecache.Events[struct{}] = (*Events[struct{}])(nil)

func New[V any](l *slog.Logger, opts Options) *Events[V] {
	return &Events[V]{l: l, opts: opts}
}

func (e *Events[V]) redact(k string) string {
	if e.opts.Redact != nil {
		return e.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (e *Events[V]) SubcacheCreated(parent *treecache.Cache[V], key string) {
	if e.l == nil {
		return
	}
	e.l.Debug("treecache.subcache_created",
		"parent", parent.Prefix(),
		"key", key)
}

func (e *Events[V]) LoadError(key string, err error) {
	if e.l == nil || !sample(e.opts.LoadErrorEvery, &e.loadErrCtr) {
		return
	}
	e.l.Warn("treecache.load_error",
		"key", e.redact(key),
		"err", err)
}

func (e *Events[V]) BackupDone(node *treecache.Cache[V], outcomes []error) {
	e.sweepDone("treecache.backup_done", node, outcomes)
}

func (e *Events[V]) CleanupDone(node *treecache.Cache[V], outcomes []error) {
	e.sweepDone("treecache.cleanup_done", node, outcomes)
}

func (e *Events[V]) sweepDone(msg string, node *treecache.Cache[V], outcomes []error) {
	if e.l == nil || !sample(e.opts.SweepEvery, &e.sweepCtr) {
		return
	}
	failed := 0
	for _, err := range outcomes {
		if err != nil {
			failed++
		}
	}
	e.l.Info(msg,
		"node", node.Prefix(),
		"saves", len(outcomes),
		"failed", failed)
}

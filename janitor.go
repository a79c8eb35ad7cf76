package treecache

import (
	"context"
	"sync"
	"time"
)

// JanitorConfig tunes the background maintenance loop. A zero age disables
// the corresponding sweep.
type JanitorConfig struct {
	Interval   time.Duration // tick period; 0 => 1m
	BackupAge  time.Duration // Backup threshold per tick
	CleanupAge time.Duration // Cleanup threshold per tick
}

// Janitor periodically runs the backup and cleanup sweeps on a cache tree
// so callers do not have to schedule them. One janitor drives one root.
type Janitor[V any] struct {
	c      *Cache[V]
	cfg    JanitorConfig
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewJanitor starts the maintenance loop. Close stops it.
func NewJanitor[V any](c *Cache[V], cfg JanitorConfig) *Janitor[V] {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	j := &Janitor[V]{
		c:      c,
		cfg:    cfg,
		ticker: time.NewTicker(cfg.Interval),
		stopCh: make(chan struct{}),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case <-j.ticker.C:
				j.sweep()
			case <-j.stopCh:
				return
			}
		}
	}()
	return j
}

func (j *Janitor[V]) sweep() {
	ctx := context.Background()
	if j.cfg.BackupAge > 0 {
		_ = j.c.Backup(ctx, j.cfg.BackupAge)
	}
	if j.cfg.CleanupAge > 0 {
		_ = j.c.Cleanup(ctx, j.cfg.CleanupAge)
	}
}

// Close stops the loop and waits for an in-flight sweep to finish.
// Safe to call multiple times.
func (j *Janitor[V]) Close() {
	j.once.Do(func() {
		close(j.stopCh)
		j.ticker.Stop()
		j.wg.Wait()
	})
}

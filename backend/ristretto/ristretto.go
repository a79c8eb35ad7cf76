// Package ristretto adapts dgraph-io/ristretto into the four treecache
// hooks. Values are stored as-is (no codec): ristretto holds Go values,
// so serialization would only cost allocations.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/fernwood/treecache"
)

type Store[V any] struct {
	c   *rc.Cache
	ttl time.Duration
}

var _ treecache.Store[struct{}] = (*Store[struct{}])(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// TTL expires saved entries; 0 means no expiry.
	TTL time.Duration
}

func New[V any](cfg Config) (*Store[V], error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto backend: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store[V]{c: c, ttl: cfg.TTL}, nil
}

func (s *Store[V]) Load(_ context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok := s.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	v, ok := raw.(V)
	if !ok {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return zero, false, nil
	}
	return v, true, nil
}

func (s *Store[V]) Save(_ context.Context, key string, value V) error {
	// admission may still reject the write under pressure; that is not an
	// error for a cache backend
	s.c.SetWithTTL(key, value, 1, s.ttl)
	return nil
}

func (s *Store[V]) Contains(_ context.Context, key string) (bool, error) {
	_, ok := s.c.Get(key)
	return ok, nil
}

func (s *Store[V]) Remove(_ context.Context, key string) (bool, error) {
	_, ok := s.c.Get(key)
	s.c.Del(key)
	return ok, nil
}

func (s *Store[V]) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto's counters when enabled in Config.
func (s *Store[V]) Metrics() *rc.Metrics { return s.c.Metrics }

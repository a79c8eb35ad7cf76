// Package bigcache adapts allegro/bigcache into the four treecache hooks,
// giving the tree a fast in-process backing store with a global life
// window instead of per-entry TTLs.
package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/fernwood/treecache"
	"github.com/fernwood/treecache/codec"
)

var ErrNilCodec = errors.New("bigcache backend: nil codec")

type Store[V any] struct {
	c     *bc.BigCache
	codec codec.Codec[V]
}

var _ treecache.Store[struct{}] = (*Store[struct{}])(nil)

type Config[V any] struct {
	Codec              codec.Codec[V]
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New[V any](cfg Config[V]) (*Store[V], error) {
	if cfg.Codec == nil {
		return nil, ErrNilCodec
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Store[V]{c: c, codec: cfg.Codec}, nil
}

func (s *Store[V]) Load(_ context.Context, key string) (V, bool, error) {
	var zero V
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (s *Store[V]) Save(_ context.Context, key string, value V) error {
	b, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	return s.c.Set(key, b)
}

func (s *Store[V]) Contains(_ context.Context, key string) (bool, error) {
	_, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store[V]) Remove(_ context.Context, key string) (bool, error) {
	err := s.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store[V]) Close(context.Context) error {
	return s.c.Close()
}

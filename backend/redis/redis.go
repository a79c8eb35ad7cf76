// Package redis adapts a Redis client into the four treecache hooks.
// Values are serialized through a Codec; the byte payload is stored
// verbatim under the cache's full key.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fernwood/treecache"
	"github.com/fernwood/treecache/codec"
)

var ErrNilClient = errors.New("redis backend: nil client")
var ErrNilCodec = errors.New("redis backend: nil codec")

type Store[V any] struct {
	rdb         goredis.UniversalClient
	codec       codec.Codec[V]
	ttl         time.Duration
	closeClient bool
}

var _ treecache.Store[struct{}] = (*Store[struct{}])(nil)

type Config[V any] struct {
	Client goredis.UniversalClient
	Codec  codec.Codec[V]
	// TTL expires saved entries; 0 means no expiry. The cache layer has
	// its own eviction, so a backend TTL is a second line of defense.
	TTL time.Duration
	// CloseClient releases the client on Close. Set only if this store
	// exclusively owns it.
	CloseClient bool
}

func New[V any](cfg Config[V]) (*Store[V], error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Codec == nil {
		return nil, ErrNilCodec
	}
	return &Store[V]{rdb: cfg.Client, codec: cfg.Codec, ttl: cfg.TTL, closeClient: cfg.CloseClient}, nil
}

func (s *Store[V]) Load(ctx context.Context, key string) (V, bool, error) {
	var zero V
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return zero, false, nil // miss
	}
	if err != nil {
		return zero, false, err // transport/server error
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (s *Store[V]) Save(ctx context.Context, key string, value V) error {
	b, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, s.ttl).Err()
}

func (s *Store[V]) Contains(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store[V]) Remove(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store[V]) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

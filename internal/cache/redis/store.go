// Package redis implements cache.Store on Redis so several engine processes
// can share completed invocations.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/hanpama/hurdles/internal/cache"
)

const defaultPrefix = "hurdles:cache:"

// Store keeps JSON-encoded entries under a key prefix. Values come back as
// decoded JSON: numbers are float64, records map[string]any.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithPrefix sets the key prefix. Default "hurdles:cache:".
func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

// WithTTL expires entries after d. Zero keeps them until evicted by Redis.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// New creates a Store on an existing client.
func New(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects to addr and checks the connection with PING.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := backend.NewClient(&backend.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

var _ cache.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, backend.Nil) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, key string, e cache.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

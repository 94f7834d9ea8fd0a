package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/cespare/xxhash/v2"
)

type (
	Store interface {
		Load(ctx context.Context, id string) (*Session, error)
		Save(ctx context.Context, s *Session) error
		Delete(ctx context.Context, id string) error
	}

	cacheStore struct {
		cache *bigcache.BigCache
		now   func() time.Time
	}

	xxHasher struct{}
)

var (
	ErrNotFound = errors.New("session: not found")
)

func (xxHasher) Sum64(key string) uint64 {
	return xxhash.Sum64String(key)
}

// InMemoryStore keeps sessions inside a bigcache instance.
//
// Entries are evicted by the cache after ttl without writes, the
// session own ExpiresAt is checked on every load since eviction
// only happens on the cache cleanup cycle.
func InMemoryStore(ttl time.Duration) (Store, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = time.Minute
	cfg.MaxEntriesInWindow = 10_000
	cfg.MaxEntrySize = 1024
	cfg.Hasher = xxHasher{}
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("session: unable to create session cache, cause %w", err)
	}
	return &cacheStore{cache: cache, now: time.Now}, nil
}

func (c *cacheStore) Load(ctx context.Context, id string) (*Session, error) {
	buf, err := c.cache.Get(id)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("session: unable to read session, cause %w", err)
	}
	s, err := decode(id, buf)
	if err != nil {
		return nil, err
	}
	if !s.ExpiresAt.IsZero() && !c.now().Before(s.ExpiresAt) {
		c.cache.Delete(id)
		return nil, ErrNotFound
	}
	return s, nil
}

func (c *cacheStore) Save(ctx context.Context, s *Session) error {
	buf, err := s.encode()
	if err != nil {
		return fmt.Errorf("session: unable to encode session, cause %w", err)
	}
	if err := c.cache.Set(s.ID, buf); err != nil {
		return fmt.Errorf("session: unable to write session, cause %w", err)
	}
	return nil
}

func (c *cacheStore) Delete(ctx context.Context, id string) error {
	err := c.cache.Delete(id)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("session: unable to delete session, cause %w", err)
	}
	return nil
}

package recordstore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EventualCache wraps a Store with a bounded-size, bounded-staleness front
// cache for Get(..., Eventual) reads. Strong reads and every write bypass
// the cache entirely (writes invalidate the cached entry so a subsequent
// Eventual read is never more than maxAge stale).
type EventualCache struct {
	Store
	cache  *lru.Cache[string, cachedRecord]
	maxAge time.Duration
}

type cachedRecord struct {
	record   Record
	cachedAt time.Time
}

// NewEventualCache wraps store with an LRU front cache of the given size,
// serving stale reads up to maxAge old.
func NewEventualCache(store Store, size int, maxAge time.Duration) (*EventualCache, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, cachedRecord](size)
	if err != nil {
		return nil, err
	}
	return &EventualCache{Store: store, cache: cache, maxAge: maxAge}, nil
}

func (e *EventualCache) Get(ctx context.Context, key string, consistency Consistency) (Record, error) {
	if consistency == Strong {
		return e.Store.Get(ctx, key, Strong)
	}

	if cached, ok := e.cache.Get(key); ok && time.Since(cached.cachedAt) < e.maxAge {
		return cached.record, nil
	}

	rec, err := e.Store.Get(ctx, key, Eventual)
	if err != nil {
		return Record{}, err
	}
	e.cache.Add(key, cachedRecord{record: rec, cachedAt: time.Now()})
	return rec, nil
}

func (e *EventualCache) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	rec, err := e.Store.PutIfAbsent(ctx, key, value, ttl)
	if err == nil {
		e.cache.Remove(key)
	}
	return rec, err
}

func (e *EventualCache) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte, ttl time.Duration) (Record, error) {
	rec, err := e.Store.CompareAndSet(ctx, key, expectedVersion, value, ttl)
	if err == nil {
		e.cache.Remove(key)
	}
	return rec, err
}

func (e *EventualCache) Add(ctx context.Context, key string, delta int64, guard func(int64) bool) (int64, error) {
	result, err := e.Store.Add(ctx, key, delta, guard)
	if err == nil {
		e.cache.Remove(key)
	}
	return result, err
}

func (e *EventualCache) Delete(ctx context.Context, key string) error {
	err := e.Store.Delete(ctx, key)
	e.cache.Remove(key)
	return err
}

package recordstore

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// MemoryConfig tunes the in-memory adapter's background expiry sweep.
type MemoryConfig struct {
	CleanupInterval time.Duration
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{CleanupInterval: time.Minute}
}

type memoryEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Store backed by a mutex-guarded map. It is the
// adapter used in tests and single-process deployments; Postgres and Redis
// adapters implement the same Store contract for multi-worker deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	stopCh  chan struct{}
}

// NewMemory creates a Memory store and starts its background expiry sweep.
// Call Close to stop the sweep goroutine.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
	}
	go m.sweep(cfg.CleanupInterval)
	return m
}

func (m *Memory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, entry := range m.entries {
				if entry.expired(now) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the background expiry sweep.
func (m *Memory) Close() {
	close(m.stopCh)
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(ctx context.Context, key string, _ Consistency) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(time.Now()) {
		return Record{}, ErrNotFound
	}
	return toRecord(key, entry), nil
}

func (m *Memory) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok && !entry.expired(time.Now()) {
		return Record{}, ErrConflict
	}

	entry := &memoryEntry{value: append([]byte(nil), value...), version: 1}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = entry
	return toRecord(key, entry), nil
}

func (m *Memory) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte, ttl time.Duration) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(time.Now()) {
		return Record{}, ErrNotFound
	}
	if entry.version != expectedVersion {
		return Record{}, ErrVersionMismatch
	}

	entry.value = append([]byte(nil), value...)
	entry.version++
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	return toRecord(key, entry), nil
}

func (m *Memory) Add(ctx context.Context, key string, delta int64, guard func(int64) bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.expired(time.Now()) {
		return 0, ErrNotFound
	}

	current := decodeInt64(entry.value)
	result := current + delta
	if guard != nil && !guard(result) {
		return current, ErrGuardFailed
	}

	entry.value = encodeInt64(result)
	entry.version++
	return result, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func toRecord(key string, e *memoryEntry) Record {
	return Record{
		Key:       key,
		Value:     append([]byte(nil), e.value...),
		Version:   e.version,
		ExpiresAt: e.expiresAt,
	}
}

// EncodeInt64 produces the byte encoding Add expects a key's value to hold.
// Callers seeding a numeric key (e.g. inventory's available-stock counter)
// before the first Add must write this encoding via PutIfAbsent.
func EncodeInt64(v int64) []byte {
	return encodeInt64(v)
}

// DecodeInt64 is the inverse of EncodeInt64, exposed for callers that read a
// numeric key directly via Get instead of Add.
func DecodeInt64(b []byte) int64 {
	return decodeInt64(b)
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryBackend is an in-process Backend with the same TTL semantics as
// Redis. Expired keys are purged when read. With a snapshot path, keys
// without a TTL are written to disk on every change and reloaded on start.
type MemoryBackend struct {
	mu       sync.Mutex
	items    map[string]memoryItem
	now      func() time.Time
	snapshot string
}

type MemoryOption func(*MemoryBackend)

// WithSnapshot persists non-expiring keys to path.
func WithSnapshot(path string) MemoryOption {
	return func(m *MemoryBackend) {
		m.snapshot = path
	}
}

func withMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) {
		m.now = now
	}
}

func NewMemoryBackend(opts ...MemoryOption) (*MemoryBackend, error) {
	m := &MemoryBackend{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.snapshot != "" {
		if err := m.load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if item.expired(m.now()) {
		delete(m.items, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), item.value...), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = item
	if ttl <= 0 {
		return m.persistLocked()
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	durable := false
	for _, k := range keys {
		if item, ok := m.items[k]; ok && item.expiresAt.IsZero() {
			durable = true
		}
		delete(m.items, k)
	}
	if durable {
		return m.persistLocked()
	}
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var keys []string
	for k, item := range m.items {
		if item.expired(now) {
			delete(m.items, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

func (m *MemoryBackend) load() error {
	data, err := os.ReadFile(m.snapshot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache snapshot: %w", err)
	}
	var durable map[string][]byte
	if err := json.Unmarshal(data, &durable); err != nil {
		// A corrupt snapshot only loses cursors, which reset to a first run.
		return nil
	}
	for k, v := range durable {
		m.items[k] = memoryItem{value: v}
	}
	return nil
}

// persistLocked writes non-expiring keys to the snapshot file via a temp
// file and rename. mu must be held.
func (m *MemoryBackend) persistLocked() error {
	if m.snapshot == "" {
		return nil
	}
	durable := make(map[string][]byte)
	for k, item := range m.items {
		if item.expiresAt.IsZero() {
			durable[k] = item.value
		}
	}
	data, err := json.Marshal(durable)
	if err != nil {
		return fmt.Errorf("marshal cache snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.snapshot), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.snapshot), ".cache-snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.snapshot); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache snapshot: %w", err)
	}
	return nil
}

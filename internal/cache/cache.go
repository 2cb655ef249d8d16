package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"docgate/internal/metrics"
	"docgate/internal/source"
)

const (
	contentPrefix = "doc:content:"
	metaPrefix    = "doc:meta:"
	cursorPrefix  = "cursor:"

	DefaultContentTTL  = 24 * time.Hour
	DefaultMetadataTTL = 5 * time.Minute
)

// Entry is cached document content.
type Entry struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	ModifiedTime time.Time `json:"modified_time"`
	CachedAt     time.Time `json:"cached_at"`
}

// Fresh reports whether the entry still reflects file.
func (e Entry) Fresh(file source.File) bool {
	return !file.ModifiedTime.After(e.ModifiedTime)
}

type metaEntry struct {
	File     source.File `json:"file"`
	CachedAt time.Time   `json:"cached_at"`
}

type Stats struct {
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// DocumentCache caches document content and metadata with separate TTLs
// and stores change cursors without expiry. Backend errors are logged and
// reported as a miss or ignored; the cache never fails a caller.
type DocumentCache struct {
	backend     Backend
	contentTTL  time.Duration
	metadataTTL time.Duration
	logger      *slog.Logger
	now         func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type Option func(*DocumentCache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *DocumentCache) {
		c.logger = logger
	}
}

func WithTTLs(content, metadata time.Duration) Option {
	return func(c *DocumentCache) {
		if content > 0 {
			c.contentTTL = content
		}
		if metadata > 0 {
			c.metadataTTL = metadata
		}
	}
}

func New(backend Backend, opts ...Option) *DocumentCache {
	c := &DocumentCache{
		backend:     backend,
		contentTTL:  DefaultContentTTL,
		metadataTTL: DefaultMetadataTTL,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open uses Redis when redisURL is set and reachable, and the in-memory
// backend otherwise. snapshotPath, if set, keeps memory-backend cursors
// across restarts.
func Open(redisURL, snapshotPath string, opts ...Option) (*DocumentCache, error) {
	c := New(nil, opts...)
	if redisURL != "" {
		backend, err := NewRedisBackend(redisURL)
		if err == nil {
			c.backend = backend
			c.logger.Info("document cache using redis")
			return c, nil
		}
		c.logger.Warn("redis unavailable, falling back to in-memory cache", "error", err)
	}

	var memOpts []MemoryOption
	if snapshotPath != "" {
		memOpts = append(memOpts, WithSnapshot(snapshotPath))
	}
	backend, err := NewMemoryBackend(memOpts...)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	c.logger.Info("document cache using memory", "snapshot", snapshotPath)
	return c, nil
}

func (c *DocumentCache) Backend() string {
	return c.backend.Name()
}

func (c *DocumentCache) Get(ctx context.Context, id string) (Entry, bool) {
	var entry Entry
	if !c.getJSON(ctx, contentPrefix+id, &entry) {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	c.hits.Add(1)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry, true
}

// Set caches content under the long TTL and the file metadata under the
// short one.
func (c *DocumentCache) Set(ctx context.Context, file source.File, content string) {
	now := c.now().UTC()
	c.setJSON(ctx, contentPrefix+file.ID, Entry{
		ID:           file.ID,
		Content:      content,
		ModifiedTime: file.ModifiedTime,
		CachedAt:     now,
	}, c.contentTTL)
	c.setJSON(ctx, metaPrefix+file.ID, metaEntry{File: file, CachedAt: now}, c.metadataTTL)
}

func (c *DocumentCache) GetMetadata(ctx context.Context, id string) (source.File, bool) {
	var meta metaEntry
	if !c.getJSON(ctx, metaPrefix+id, &meta) {
		return source.File{}, false
	}
	return meta.File, true
}

// Known reports whether any entry exists for id.
func (c *DocumentCache) Known(ctx context.Context, id string) bool {
	if _, ok := c.GetMetadata(ctx, id); ok {
		return true
	}
	var entry Entry
	return c.getJSON(ctx, contentPrefix+id, &entry)
}

func (c *DocumentCache) Invalidate(ctx context.Context, id string) {
	c.InvalidateMany(ctx, []string{id})
}

func (c *DocumentCache) InvalidateMany(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids)*2)
	for _, id := range ids {
		keys = append(keys, contentPrefix+id, metaPrefix+id)
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidate failed", "ids", len(ids), "error", err)
	}
}

// Clear drops every document entry. Change cursors are kept.
func (c *DocumentCache) Clear(ctx context.Context) {
	for _, prefix := range []string{contentPrefix, metaPrefix} {
		keys, err := c.backend.Keys(ctx, prefix)
		if err != nil {
			c.logger.Warn("cache clear failed", "prefix", prefix, "error", err)
			continue
		}
		if err := c.backend.Delete(ctx, keys...); err != nil {
			c.logger.Warn("cache clear failed", "prefix", prefix, "error", err)
		}
	}
}

func (c *DocumentCache) GetChangeToken(ctx context.Context, scope string) (string, bool) {
	value, err := c.backend.Get(ctx, cursorPrefix+scope)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("read change cursor failed", "scope", scope, "error", err)
		}
		return "", false
	}
	return string(value), len(value) > 0
}

// SetChangeToken stores a cursor without expiry. Unlike document entries a
// failed cursor write is returned, since losing it silently would re-walk
// or skip changes.
func (c *DocumentCache) SetChangeToken(ctx context.Context, scope, token string) error {
	return c.backend.Set(ctx, cursorPrefix+scope, []byte(token), 0)
}

func (c *DocumentCache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := Stats{Backend: c.backend.Name(), Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if keys, err := c.backend.Keys(ctx, contentPrefix); err == nil {
		stats.Entries = len(keys)
	}
	return stats
}

func (c *DocumentCache) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

func (c *DocumentCache) Close() error {
	return c.backend.Close()
}

func (c *DocumentCache) getJSON(ctx context.Context, key string, v any) bool {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.backend.Delete(ctx, key)
		return false
	}
	return true
}

func (c *DocumentCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

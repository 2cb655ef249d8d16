// Package changes walks the document store's change feed from a persisted
// cursor and reports the relevant changes since the last walk.
package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docgate/internal/cache"
	"docgate/internal/metrics"
	"docgate/internal/source"
)

const (
	DefaultScope    = "global"
	defaultMaxPages = 1000
)

type ChangeType string

const (
	Created  ChangeType = "created"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

type Change struct {
	Type       ChangeType   `json:"type"`
	FileID     string       `json:"file_id"`
	File       *source.File `json:"file,omitempty"`
	FolderPath string       `json:"folder_path,omitempty"`
	Time       time.Time    `json:"time"`
}

type SyncResult struct {
	Changes []Change `json:"changes"`
	// IsFirstRun means there was no usable cursor; the caller should run a
	// full scan once.
	IsFirstRun bool   `json:"is_first_run"`
	Cursor     string `json:"cursor"`
	Pages      int    `json:"pages"`
}

// FeedSource is the part of the document source the monitor reads.
type FeedSource interface {
	StartCursor(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, cursor string) (source.ChangePage, error)
}

// FolderChecker answers whitelist questions from the folder cache.
type FolderChecker interface {
	IsFolderIDWhitelisted(id string) bool
	FolderPath(id string) (string, bool)
}

type Monitor struct {
	src      FeedSource
	cache    *cache.DocumentCache
	folders  FolderChecker
	scope    string
	maxPages int
	logger   *slog.Logger
}

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithScope(scope string) Option {
	return func(m *Monitor) {
		if scope != "" {
			m.scope = scope
		}
	}
}

func WithMaxPages(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxPages = n
		}
	}
}

func NewMonitor(src FeedSource, c *cache.DocumentCache, folders FolderChecker, opts ...Option) *Monitor {
	m := &Monitor{
		src:      src,
		cache:    c,
		folders:  folders,
		scope:    DefaultScope,
		maxPages: defaultMaxPages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetChanges returns the filtered changes since the stored cursor. The new
// cursor is persisted only after every page was read.
func (m *Monitor) GetChanges(ctx context.Context) (SyncResult, error) {
	stored, ok := m.cache.GetChangeToken(ctx, m.scope)
	if !ok {
		m.logger.Info("no change cursor stored, starting fresh", "scope", m.scope)
		return m.reset(ctx)
	}

	var result SyncResult
	cursor := stored
	final := ""
	for result.Pages < m.maxPages {
		page, err := m.src.ListChanges(ctx, cursor)
		if err != nil {
			if errors.Is(err, source.ErrInvalidCursor) {
				m.logger.Warn("change cursor rejected, resetting", "scope", m.scope, "error", err)
				return m.reset(ctx)
			}
			return SyncResult{}, fmt.Errorf("list changes: %w", err)
		}
		result.Pages++

		for _, entry := range page.Entries {
			if change, ok := m.accept(ctx, entry); ok {
				result.Changes = append(result.Changes, change)
			}
		}

		if page.NewStartCursor != "" {
			final = page.NewStartCursor
			break
		}
		if page.NextPageCursor == "" || page.NextPageCursor == cursor {
			break
		}
		cursor = page.NextPageCursor
	}
	if final == "" {
		return SyncResult{}, fmt.Errorf("change feed for %s ended after %d pages without a new cursor", m.scope, result.Pages)
	}

	ids := make([]string, 0, len(result.Changes))
	for _, c := range result.Changes {
		ids = append(ids, c.FileID)
		metrics.SyncChanges.WithLabelValues(string(c.Type)).Inc()
	}
	m.cache.InvalidateMany(ctx, ids)

	if err := m.cache.SetChangeToken(ctx, m.scope, final); err != nil {
		return SyncResult{}, fmt.Errorf("persist change cursor: %w", err)
	}
	result.Cursor = final

	m.logger.Info("change walk complete",
		"scope", m.scope,
		"pages", result.Pages,
		"changes", len(result.Changes))
	return result, nil
}

func (m *Monitor) reset(ctx context.Context) (SyncResult, error) {
	token, err := m.src.StartCursor(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch start cursor: %w", err)
	}
	if err := m.cache.SetChangeToken(ctx, m.scope, token); err != nil {
		return SyncResult{}, fmt.Errorf("persist change cursor: %w", err)
	}
	return SyncResult{IsFirstRun: true, Cursor: token}, nil
}

// accept filters and classifies one feed entry.
func (m *Monitor) accept(ctx context.Context, entry source.ChangeEntry) (Change, bool) {
	if entry.File == nil {
		// Removal without metadata: only relevant if we ever cached it.
		if entry.Removed && m.cache.Known(ctx, entry.FileID) {
			return Change{Type: Deleted, FileID: entry.FileID, Time: entry.Time}, true
		}
		return Change{}, false
	}

	file := entry.File
	if !file.Type().Monitored() {
		return Change{}, false
	}
	parent := file.ParentID()
	if parent == "" || !m.folders.IsFolderIDWhitelisted(parent) {
		return Change{}, false
	}

	change := Change{
		Type:   Classify(entry),
		FileID: entry.FileID,
		File:   file,
		Time:   entry.Time,
	}
	if change.FileID == "" {
		change.FileID = file.ID
	}
	if path, ok := m.folders.FolderPath(parent); ok {
		change.FolderPath = path
	}
	return change, true
}

// Classify decides the change type. A file whose creation and modification
// fall in the same second is new; removed and trashed files are deleted.
func Classify(entry source.ChangeEntry) ChangeType {
	if entry.Removed || (entry.File != nil && entry.File.Trashed) {
		return Deleted
	}
	if entry.File == nil {
		return Modified
	}
	created := entry.File.CreatedTime.Truncate(time.Second)
	modified := entry.File.ModifiedTime.Truncate(time.Second)
	if created.Equal(modified) {
		return Created
	}
	return Modified
}

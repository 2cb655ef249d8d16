// Package ingest runs one synchronization pass: folder enforcement, change
// detection, cached fetches, secret scan annotations and search indexing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"docgate/internal/apperr"
	"docgate/internal/cache"
	"docgate/internal/changes"
	"docgate/internal/folders"
	"docgate/internal/metrics"
	"docgate/internal/search"
	"docgate/internal/security"
	"docgate/internal/source"
)

const defaultConcurrency = 4

// Enforcer validates folder permissions and populates the folder cache the
// monitor relies on.
type Enforcer interface {
	Enforce(ctx context.Context) (folders.Report, error)
	WhitelistedFolders() []folders.FolderInfo
}

type ChangeFeed interface {
	GetChanges(ctx context.Context) (changes.SyncResult, error)
}

// Fetcher is the part of the document source a pass reads content with.
type Fetcher interface {
	FetchContent(ctx context.Context, file source.File) (string, error)
	ListFiles(ctx context.Context, folderID string) ([]source.File, error)
}

// Failure is one document or folder that was skipped.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type Report struct {
	FirstRun  bool              `json:"first_run"`
	Folders   folders.Report    `json:"folders"`
	Documents []source.Document `json:"-"`
	Fetched   int               `json:"fetched"`
	CacheHits int               `json:"cache_hits"`
	Deleted   []string          `json:"deleted,omitempty"`
	Degraded  []Failure         `json:"degraded,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

type Pipeline struct {
	folders     Enforcer
	feed        ChangeFeed
	src         Fetcher
	cache       *cache.DocumentCache
	scanner     *security.SecretScanner
	index       search.Indexer
	concurrency int
	logger      *slog.Logger

	inflight singleflight.Group
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithIndexer sends redacted documents to a search index.
func WithIndexer(idx search.Indexer) Option {
	return func(p *Pipeline) {
		p.index = idx
	}
}

func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func New(enforcer Enforcer, feed ChangeFeed, src Fetcher, c *cache.DocumentCache, scanner *security.SecretScanner, opts ...Option) *Pipeline {
	p := &Pipeline{
		folders:     enforcer,
		feed:        feed,
		src:         src,
		cache:       c,
		scanner:     scanner,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type target struct {
	file   source.File
	folder string
}

// Run performs one pass. Folder enforcement and change detection failures
// abort the pass; a failure on a single document is recorded as degraded
// and the pass continues.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: time.Now()}

	folderReport, err := p.folders.Enforce(ctx)
	report.Folders = folderReport
	if err != nil {
		return report, fmt.Errorf("enforce folders: %w", err)
	}

	feed, err := p.feed.GetChanges(ctx)
	if err != nil {
		return report, fmt.Errorf("get changes: %w", err)
	}
	report.FirstRun = feed.IsFirstRun

	var targets []target
	if feed.IsFirstRun {
		p.logger.Info("first run, scanning whitelisted folders")
		targets = p.fullScan(ctx, &report)
	} else {
		for _, c := range feed.Changes {
			switch {
			case c.Type == changes.Deleted:
				report.Deleted = append(report.Deleted, c.FileID)
			case c.File != nil:
				targets = append(targets, target{file: *c.File, folder: c.FolderPath})
			}
		}
	}

	report.Documents = p.fetchAll(ctx, targets, &report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	p.updateIndex(ctx, &report)
	metrics.IngestDocuments.WithLabelValues("deleted").Add(float64(len(report.Deleted)))

	report.Duration = time.Since(report.StartedAt)
	p.logger.Info("ingest pass complete",
		"first_run", report.FirstRun,
		"documents", len(report.Documents),
		"cache_hits", report.CacheHits,
		"deleted", len(report.Deleted),
		"degraded", len(report.Degraded),
		"duration", report.Duration)
	return report, nil
}

// fullScan lists every monitored file in the whitelisted folders.
func (p *Pipeline) fullScan(ctx context.Context, report *Report) []target {
	seen := make(map[string]bool)
	var out []target
	for _, f := range p.folders.WhitelistedFolders() {
		files, err := p.src.ListFiles(ctx, f.ID)
		if err != nil {
			p.degrade(report, f.ID, fmt.Errorf("list folder %s: %w", f.Path, err))
			continue
		}
		for _, file := range files {
			if seen[file.ID] || file.Trashed || !file.Type().Monitored() {
				continue
			}
			seen[file.ID] = true
			out = append(out, target{file: file, folder: f.Path})
		}
	}
	return out
}

func (p *Pipeline) fetchAll(ctx context.Context, targets []target, report *Report) []source.Document {
	docs := make([]*source.Document, len(targets))
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(p.concurrency)
	for i, t := range targets {
		eg.Go(func() error {
			content, hit, err := p.fetch(ctx, t.file)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.degrade(report, t.file.ID, err)
				return nil
			}
			if hit {
				report.CacheHits++
				metrics.IngestDocuments.WithLabelValues("cached").Inc()
			} else {
				report.Fetched++
				metrics.IngestDocuments.WithLabelValues("fetched").Inc()
			}
			doc := p.annotate(t, content)
			docs[i] = &doc
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]source.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// fetch returns fresh cached content or downloads it once, however many
// callers ask for the same file at the same time.
func (p *Pipeline) fetch(ctx context.Context, file source.File) (string, bool, error) {
	if entry, ok := p.cache.Get(ctx, file.ID); ok && entry.Fresh(file) {
		return entry.Content, true, nil
	}
	v, err, _ := p.inflight.Do(file.ID, func() (any, error) {
		content, err := p.src.FetchContent(ctx, file)
		if err != nil {
			return "", err
		}
		p.cache.Set(ctx, file, content)
		return content, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", file.ID, err)
	}
	return v.(string), false, nil
}

func (p *Pipeline) annotate(t target, content string) source.Document {
	doc := source.Document{
		ID:           t.file.ID,
		Name:         t.file.Name,
		Content:      content,
		FolderPath:   t.folder,
		Type:         t.file.Type(),
		CreatedTime:  t.file.CreatedTime,
		ModifiedTime: t.file.ModifiedTime,
	}
	scan := p.scanner.Scan(content)
	if scan.HasSecrets {
		doc.SecretsDetected = true
		doc.RedactionCount = scan.RedactionCount
		p.logger.Warn("secrets detected in document",
			"document_id", doc.ID,
			"types", scan.Types(),
			"critical", scan.CriticalFound)
	}
	return doc
}

func (p *Pipeline) updateIndex(ctx context.Context, report *Report) {
	if p.index == nil {
		return
	}
	records := make([]search.DocumentRecord, 0, len(report.Documents))
	for _, d := range report.Documents {
		records = append(records, search.RecordFor(d, p.scanner.Redact(d.Content)))
	}
	if err := p.index.IndexDocuments(ctx, records); err != nil {
		p.logger.Warn("index documents", "count", len(records), "error", err)
	}
	if err := p.index.DeleteDocuments(ctx, report.Deleted); err != nil {
		p.logger.Warn("remove deleted documents from index", "count", len(report.Deleted), "error", err)
	}
}

func (p *Pipeline) degrade(report *Report, id string, err error) {
	var wrapped error = apperr.Wrap(apperr.KindDegraded, "ingest", err)
	if errors.Is(err, context.Canceled) {
		wrapped = err
	}
	p.logger.Warn("document skipped", "id", id, "error", wrapped)
	metrics.IngestDocuments.WithLabelValues("degraded").Inc()
	report.Degraded = append(report.Degraded, Failure{ID: id, Error: wrapped.Error()})
}

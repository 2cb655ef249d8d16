// Package app exposes the review workflow, sync control and operational
// state over HTTP and hosts the periodic sync/transform runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docgate/internal/cache"
	"docgate/internal/folders"
	"docgate/internal/gitrepo"
	"docgate/internal/resilience"
	"docgate/internal/review"
	"docgate/internal/search"
)

type ReviewQueue interface {
	List(ctx context.Context, status review.Status) ([]review.Item, error)
	Get(ctx context.Context, id string) (review.Item, error)
	Approve(ctx context.Context, id, reviewer, notes string) (review.Item, error)
	Reject(ctx context.Context, id, reviewer, notes string) (review.Item, error)
	CleanupOldReviews(ctx context.Context) (int, error)
}

type Ledger interface {
	History(limit int) ([]gitrepo.CommitInfo, error)
}

type AuditLog interface {
	ForReview(ctx context.Context, reviewID string) ([]review.AuditEvent, error)
	Recent(ctx context.Context, limit int) ([]review.AuditEvent, error)
}

type DocumentCache interface {
	Stats(ctx context.Context) cache.Stats
	Ping(ctx context.Context) error
}

type BreakerStates interface {
	States() []resilience.CircuitState
}

type FolderView interface {
	WhitelistedFolders() []folders.FolderInfo
}

type Publisher interface {
	Publish(ctx context.Context, profile, name, output string, meta any) (string, error)
}

type Syncer interface {
	RunOnce(ctx context.Context) (RunSummary, error)
}

// Deps are the collaborators the service reads from. Only Reviews is
// required; endpoints backed by a nil dependency report NOT_CONFIGURED.
type Deps struct {
	Reviews   ReviewQueue
	Ledger    Ledger
	Audit     AuditLog
	Cache     DocumentCache
	Breakers  BreakerStates
	Folders   FolderView
	Search    search.Searcher
	Publisher Publisher
	Syncer    Syncer
	Logger    *slog.Logger
}

type Service struct {
	deps   Deps
	logger *slog.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, logger: logger}
}

// Decision is the outcome of an approve or reject call. OutputPath is set
// when an approved output was published.
type Decision struct {
	Item       review.Item `json:"item"`
	OutputPath string      `json:"outputPath,omitempty"`
}

// Readiness runs the dependency checks behind /api/ready.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}

	if _, err := s.deps.Reviews.List(ctx, review.StatusPending); err != nil {
		ready = false
		checks["reviews"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["reviews"] = map[string]any{"status": "ok"}
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Ping(ctx); err != nil {
			ready = false
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["cache"] = map[string]any{"status": "ok"}
		}
	}
	if s.deps.Search != nil {
		// Search is optional; an unhealthy index degrades search only.
		status := "ok"
		if !s.deps.Search.Healthy() {
			status = "degraded"
		}
		checks["search"] = map[string]any{"status": status}
	}
	return ready, checks
}

func (s *Service) ListReviews(ctx context.Context, status string) ([]review.Item, error) {
	st, err := review.ParseStatus(status)
	if err != nil {
		return nil, badRequest("INVALID_STATUS", err.Error())
	}
	return s.deps.Reviews.List(ctx, st)
}

func (s *Service) GetReview(ctx context.Context, id string) (review.Item, error) {
	return s.deps.Reviews.Get(ctx, id)
}

// Approve records the decision and publishes the held output.
func (s *Service) Approve(ctx context.Context, id, reviewer, notes string) (Decision, error) {
	item, err := s.deps.Reviews.Approve(ctx, id, reviewer, notes)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Item: item}
	path, err := s.release(ctx, item)
	if err != nil {
		s.logger.Error("publish approved output", "review_id", id, "error", err)
	}
	decision.OutputPath = path
	return decision, nil
}

func (s *Service) Reject(ctx context.Context, id, reviewer, notes string) (Decision, error) {
	item, err := s.deps.Reviews.Reject(ctx, id, reviewer, notes)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Item: item}, nil
}

func (s *Service) release(ctx context.Context, item review.Item) (string, error) {
	if s.deps.Publisher == nil {
		return "", nil
	}
	output, _ := item.Payload["output"].(string)
	profile, _ := item.Payload["profile"].(string)
	if output == "" || profile == "" {
		return "", fmt.Errorf("review %s carries no publishable output", item.ID)
	}
	meta := map[string]any{
		"review_id": item.ID,
		"reviewer":  item.Reviewer,
		"notes":     item.Notes,
		"reason":    item.Reason,
		"issues":    item.SecurityIssues,
	}
	if item.ReviewedAt != nil {
		meta["approved_at"] = item.ReviewedAt.UTC().Format(time.RFC3339)
	}
	return s.deps.Publisher.Publish(ctx, profile, "review-"+item.ID, output, meta)
}

func (s *Service) CleanupReviews(ctx context.Context) (int, error) {
	return s.deps.Reviews.CleanupOldReviews(ctx)
}

func (s *Service) LedgerHistory(limit int) ([]gitrepo.CommitInfo, error) {
	if s.deps.Ledger == nil {
		return nil, notConfigured("decision ledger")
	}
	return s.deps.Ledger.History(limit)
}

func (s *Service) AuditForReview(ctx context.Context, id string) ([]review.AuditEvent, error) {
	if s.deps.Audit == nil {
		return nil, notConfigured("audit database")
	}
	return s.deps.Audit.ForReview(ctx, id)
}

func (s *Service) RecentAudit(ctx context.Context, limit int) ([]review.AuditEvent, error) {
	if s.deps.Audit == nil {
		return nil, notConfigured("audit database")
	}
	return s.deps.Audit.Recent(ctx, limit)
}

func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	if s.deps.Cache == nil {
		return cache.Stats{}, notConfigured("document cache")
	}
	return s.deps.Cache.Stats(ctx), nil
}

func (s *Service) Breakers() ([]resilience.CircuitState, error) {
	if s.deps.Breakers == nil {
		return nil, notConfigured("circuit breakers")
	}
	return s.deps.Breakers.States(), nil
}

func (s *Service) Folders() ([]folders.FolderInfo, error) {
	if s.deps.Folders == nil {
		return nil, notConfigured("folder validator")
	}
	return s.deps.Folders.WhitelistedFolders(), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.deps.Search == nil {
		return search.Response{}, notConfigured("search")
	}
	if q.Text == "" {
		return search.Response{}, badRequest("INVALID_QUERY", "q is required")
	}
	return s.deps.Search.Search(ctx, q)
}

func (s *Service) TriggerSync(ctx context.Context) (RunSummary, error) {
	if s.deps.Syncer == nil {
		return RunSummary{}, notConfigured("sync")
	}
	summary, err := s.deps.Syncer.RunOnce(ctx)
	if errors.Is(err, ErrSyncInProgress) {
		return summary, conflict("SYNC_IN_PROGRESS", "A sync pass is already running")
	}
	return summary, err
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/gateway"
	"docgate/internal/ingest"
	"docgate/internal/security"
	"docgate/internal/source"
)

var ErrSyncInProgress = errors.New("sync already in progress")

type Ingester interface {
	Run(ctx context.Context) (ingest.Report, error)
}

type Transformer interface {
	TransformAll(ctx context.Context, docs []source.Document, instruction string, profiles []security.Profile) []gateway.ProfileResult
}

// ResultPublisher writes released gateway results.
type ResultPublisher interface {
	PublishResult(ctx context.Context, name string, res *gateway.Result) (string, error)
}

type RunSummary struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	FirstRun  bool          `json:"firstRun"`
	Documents int           `json:"documents"`
	Deleted   int           `json:"deleted"`
	Degraded  int           `json:"degraded"`
	Published int           `json:"published"`
	Reviews   int           `json:"reviews"`
	Blocked   int           `json:"blocked"`
	Failed    int           `json:"failed"`
}

// Runner chains one ingest pass with a transformation of every fetched
// document for every configured profile.
type Runner struct {
	ingest      Ingester
	transformer Transformer
	publisher   ResultPublisher
	profiles    []security.Profile
	instruction string
	logger      *slog.Logger

	mu sync.Mutex
}

func NewRunner(in Ingester, tr Transformer, pub ResultPublisher, profiles []security.Profile, instruction string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ingest:      in,
		transformer: tr,
		publisher:   pub,
		profiles:    profiles,
		instruction: instruction,
		logger:      logger.With("component", "runner"),
	}
}

// RunOnce performs one pass. Only one pass runs at a time per runner.
func (r *Runner) RunOnce(ctx context.Context) (RunSummary, error) {
	if !r.mu.TryLock() {
		return RunSummary{}, ErrSyncInProgress
	}
	defer r.mu.Unlock()

	summary := RunSummary{StartedAt: time.Now()}
	report, err := r.ingest.Run(ctx)
	if err != nil {
		return summary, err
	}
	summary.FirstRun = report.FirstRun
	summary.Documents = len(report.Documents)
	summary.Deleted = len(report.Deleted)
	summary.Degraded = len(report.Degraded)

	for _, doc := range report.Documents {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		results := r.transformer.TransformAll(ctx, []source.Document{doc}, r.instruction, r.profiles)
		for _, res := range results {
			r.account(ctx, &summary, doc, res)
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	r.logger.Info("sync pass complete",
		"documents", summary.Documents,
		"published", summary.Published,
		"reviews", summary.Reviews,
		"blocked", summary.Blocked,
		"failed", summary.Failed,
		"duration", summary.Duration)
	return summary, nil
}

func (r *Runner) account(ctx context.Context, summary *RunSummary, doc source.Document, res gateway.ProfileResult) {
	logger := r.logger.With("document_id", doc.ID, "profile", res.Profile)
	switch {
	case res.Err == nil:
		if r.publisher == nil {
			summary.Published++
			return
		}
		path, err := r.publisher.PublishResult(ctx, doc.Name, res.Result)
		if err != nil {
			summary.Failed++
			logger.Error("publish output", "error", err)
			return
		}
		summary.Published++
		logger.Info("output published", "path", path)
	case apperr.IsKind(res.Err, apperr.KindReviewRequired):
		summary.Reviews++
		logger.Warn("output held for review", "review_id", apperr.ReviewIDOf(res.Err))
	case apperr.IsKind(res.Err, apperr.KindSecurityBlock):
		summary.Blocked++
		logger.Error("transformation blocked", "error", res.Err)
	default:
		summary.Failed++
		logger.Error("transformation failed", "error", res.Err)
	}
}

// Loop runs a pass immediately and then every interval until ctx is done.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("sync pass failed", "error", err, "kind", apperr.KindOf(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

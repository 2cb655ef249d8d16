package review

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/metrics"
	"docgate/internal/security"
	"docgate/internal/util"
)

const DefaultMaxHistory = 100

// Ledger records decided items somewhere durable and reviewable.
type Ledger interface {
	RecordDecision(ctx context.Context, item Item) error
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

func WithAudit(sink AuditSink) Option {
	return func(q *Queue) { q.audit = sink }
}

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithLedger(l Ledger) Option {
	return func(q *Queue) { q.ledger = l }
}

// WithMaxHistory bounds how many items the queue keeps.
func WithMaxHistory(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxHistory = n
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is the manual review queue. Every change is a Store.Update, so
// several processes may share one store; the mutex only keeps a single
// process from contending with itself.
type Queue struct {
	mu         sync.Mutex
	store      Store
	audit      AuditSink
	notifier   Notifier
	ledger     Ledger
	logger     *slog.Logger
	maxHistory int
	now        func() time.Time
}

func NewQueue(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		audit:      discardSink{},
		logger:     slog.Default(),
		maxHistory: DefaultMaxHistory,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.notifier == nil {
		q.notifier = LogNotifier{Logger: q.logger}
	}
	return q
}

func (q *Queue) update(ctx context.Context, fn func(items []Item) ([]Item, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Update(ctx, fn)
}

// FlagForReview queues payload as PENDING and always returns an error. On
// success it is a ReviewRequired error carrying the new review id; if the
// item could not be persisted it is Fatal. Either way the output must not
// be released.
func (q *Queue) FlagForReview(ctx context.Context, payload map[string]any, reason string, issues []security.Issue) error {
	if issues == nil {
		issues = []security.Issue{}
	}
	item := Item{
		ID:             util.NewID(""),
		Payload:        payload,
		Reason:         reason,
		FlaggedAt:      q.now(),
		Status:         StatusPending,
		SecurityIssues: issues,
	}

	var saved, evicted []Item
	err := q.update(ctx, func(items []Item) ([]Item, error) {
		saved, evicted = q.evict(append(items, item))
		return saved, nil
	})
	if err != nil {
		return apperr.Fatal("review.flag", fmt.Errorf("persist queue: %w", err))
	}
	q.updatePending(saved)

	q.record(ctx, AuditEvent{
		Event:          EventFlagged,
		ReviewID:       item.ID,
		Reason:         reason,
		SecurityIssues: issues,
		Status:         StatusPending,
		Severity:       string(riskOf(issues)),
	})
	q.recordEvictions(ctx, evicted)
	if err := q.notifier.NotifyReview(ctx, item); err != nil {
		q.logger.Warn("review notification failed", "review_id", item.ID, "error", err)
	}
	q.logger.Info("review flagged", "review_id", item.ID, "reason", reason, "issues", len(issues))
	return apperr.ReviewRequired("review.flag", item.ID, reason)
}

// Approve marks a PENDING item approved. Any other state returns
// ErrInvalidTransition and leaves the item untouched.
func (q *Queue) Approve(ctx context.Context, id, reviewer, notes string) (Item, error) {
	return q.decide(ctx, id, reviewer, notes, true)
}

func (q *Queue) Reject(ctx context.Context, id, reviewer, notes string) (Item, error) {
	return q.decide(ctx, id, reviewer, notes, false)
}

func (q *Queue) decide(ctx context.Context, id, reviewer, notes string, approve bool) (Item, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return Item{}, ErrReviewerRequired
	}

	reviewedAt := q.now()
	var (
		item  Item
		saved []Item
	)
	err := q.update(ctx, func(items []Item) ([]Item, error) {
		idx := indexOf(items, id)
		if idx < 0 {
			return nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
		}
		if items[idx].Status != StatusPending {
			return nil, fmt.Errorf("review %s is %s: %w", id, items[idx].Status, ErrInvalidTransition)
		}
		item = items[idx]
		item.Approved = &approve
		item.Reviewer = reviewer
		item.ReviewedAt = &reviewedAt
		item.Notes = notes
		item.Status = StatusRejected
		if approve {
			item.Status = StatusApproved
		}
		saved = append([]Item(nil), items...)
		saved[idx] = item
		return saved, nil
	})
	if err != nil {
		return Item{}, err
	}
	q.updatePending(saved)

	event := EventRejected
	if approve {
		event = EventApproved
	}
	q.record(ctx, AuditEvent{
		Event:          event,
		ReviewID:       id,
		Reason:         notes,
		SecurityIssues: item.SecurityIssues,
		Status:         item.Status,
		Actor:          reviewer,
	})
	if q.ledger != nil {
		if err := q.ledger.RecordDecision(ctx, item); err != nil {
			q.logger.Error("review ledger commit failed", "review_id", id, "error", err)
		}
	}
	q.logger.Info("review decided", "review_id", id, "status", item.Status, "reviewer", reviewer)
	return item, nil
}

func (q *Queue) Get(ctx context.Context, id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.store.Load(ctx)
	if err != nil {
		return Item{}, fmt.Errorf("load queue: %w", err)
	}
	idx := indexOf(items, id)
	if idx < 0 {
		return Item{}, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	return items[idx], nil
}

// List returns items newest first; an empty status lists everything.
func (q *Queue) List(ctx context.Context, status Status) ([]Item, error) {
	q.mu.Lock()
	items, err := q.store.Load(ctx)
	q.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if status == "" || it.Status == status {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FlaggedAt.After(out[j].FlaggedAt)
	})
	return out, nil
}

// CleanupOldReviews trims the queue to the configured history size and
// returns how many items were removed.
func (q *Queue) CleanupOldReviews(ctx context.Context) (int, error) {
	var evicted []Item
	err := q.update(ctx, func(items []Item) ([]Item, error) {
		var kept []Item
		kept, evicted = q.evict(items)
		if len(evicted) == 0 {
			return nil, errNoChange
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	q.recordEvictions(ctx, evicted)
	return len(evicted), nil
}

// evict drops the oldest decided items until at most maxHistory remain.
// Pending items are never dropped, so the queue can exceed maxHistory when
// that many are waiting.
func (q *Queue) evict(items []Item) (kept, evicted []Item) {
	excess := len(items) - q.maxHistory
	if excess <= 0 {
		return items, nil
	}
	var terminal []int
	for i, it := range items {
		if it.Terminal() {
			terminal = append(terminal, i)
		}
	}
	sort.SliceStable(terminal, func(a, b int) bool {
		return items[terminal[a]].FlaggedAt.Before(items[terminal[b]].FlaggedAt)
	})
	if excess > len(terminal) {
		excess = len(terminal)
	}
	drop := make(map[int]bool, excess)
	for _, i := range terminal[:excess] {
		drop[i] = true
	}
	kept = make([]Item, 0, len(items)-excess)
	for i, it := range items {
		if drop[i] {
			evicted = append(evicted, it)
			continue
		}
		kept = append(kept, it)
	}
	return kept, evicted
}

func (q *Queue) recordEvictions(ctx context.Context, evicted []Item) {
	for _, it := range evicted {
		q.record(ctx, AuditEvent{Event: EventEvicted, ReviewID: it.ID, Status: it.Status, Actor: it.Reviewer})
	}
	if len(evicted) > 0 {
		q.logger.Info("old reviews evicted", "count", len(evicted))
	}
}

// RecordBlock audits output that was blocked outright and never queued.
func (q *Queue) RecordBlock(ctx context.Context, reason string, issues []security.Issue, details map[string]any) {
	q.record(ctx, AuditEvent{
		Event:          EventCriticalBlock,
		Reason:         reason,
		SecurityIssues: issues,
		Severity:       string(security.SeverityCritical),
		Details:        details,
	})
}

func (q *Queue) record(ctx context.Context, event AuditEvent) {
	if event.Time.IsZero() {
		event.Time = q.now()
	}
	if err := q.audit.Record(ctx, event); err != nil {
		q.logger.Error("audit record failed", "event", event.Event, "review_id", event.ReviewID, "error", err)
	}
}

func (q *Queue) updatePending(items []Item) {
	pending := 0
	for _, it := range items {
		if it.Status == StatusPending {
			pending++
		}
	}
	metrics.ReviewsPending.Set(float64(pending))
}

func indexOf(items []Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func riskOf(issues []security.Issue) security.Severity {
	risk := security.SeverityNone
	for _, i := range issues {
		risk = security.MaxSeverity(risk, i.Severity)
	}
	return risk
}

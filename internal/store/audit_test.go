package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"docgate/internal/review"
	"docgate/internal/security"
)

var auditColumns = []string{"occurred_at", "event", "review_id", "actor", "reason", "severity", "status", "security_issues", "details"}

func newMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New err: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(db), mock
}

func TestAuditRecordInsertsRow(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_audit_log")).
		WithArgs(at, review.EventFlagged, "rev-1", nil, "output requires manual review", "HIGH", "PENDING",
			[]byte(`[{"type":"OS_PATH","severity":"HIGH","description":"host path"}]`), []byte(`{"profile":"executive"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), review.AuditEvent{
		Time:     at,
		Event:    review.EventFlagged,
		ReviewID: "rev-1",
		Reason:   "output requires manual review",
		Severity: "HIGH",
		Status:   review.StatusPending,
		SecurityIssues: []security.Issue{
			{Type: "OS_PATH", Severity: security.SeverityHigh, Description: "host path"},
		},
		Details: map[string]any{"profile": "executive"},
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRecordDefaultsTimeAndDetails(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_audit_log")).
		WithArgs(sqlmock.AnyArg(), review.EventCriticalBlock, nil, nil, "secret leak", "CRITICAL", nil, []byte("[]"), []byte("{}")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), review.AuditEvent{Event: review.EventCriticalBlock, Reason: "secret leak", Severity: "CRITICAL"})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRecordWrapsError(t *testing.T) {
	repo, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_audit_log")).WillReturnError(boom)

	err := repo.Record(context.Background(), review.AuditEvent{Event: review.EventApproved})
	if !errors.Is(err, boom) {
		t.Fatalf("Record() error = %v, want wrapped %v", err, boom)
	}
}

func TestAuditForReview(t *testing.T) {
	repo, mock := newMock(t)
	t1 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	rows := sqlmock.NewRows(auditColumns).
		AddRow(t1, review.EventFlagged, "rev-1", nil, "risk", "HIGH", "PENDING",
			[]byte(`[{"type":"OS_PATH","severity":"HIGH","description":"host path"}]`), []byte(`{"profile":"executive"}`)).
		AddRow(t2, review.EventApproved, "rev-1", "avery", "fine", nil, "APPROVED", []byte(`[]`), []byte(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta("FROM review_audit_log")).WithArgs("rev-1").WillReturnRows(rows)

	events, err := repo.ForReview(context.Background(), "rev-1")
	if err != nil {
		t.Fatalf("ForReview() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0]
	if first.Event != review.EventFlagged || first.Actor != "" || first.Status != review.StatusPending || first.Details["profile"] != "executive" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if len(first.SecurityIssues) != 1 || first.SecurityIssues[0].Severity != security.SeverityHigh {
		t.Fatalf("issues not decoded: %+v", first.SecurityIssues)
	}
	if events[1].Actor != "avery" || events[1].Status != review.StatusApproved || events[1].SecurityIssues != nil || events[1].Details != nil {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRecentDefaultsLimit(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $1")).WithArgs(50).
		WillReturnRows(sqlmock.NewRows(auditColumns))

	events, err := repo.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var _ review.AuditSink = (*AuditRepository)(nil)

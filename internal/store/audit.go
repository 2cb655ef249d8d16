package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docgate/internal/review"
)

// AuditRepository appends review audit events to review_audit_log. The
// table rejects UPDATE and DELETE, so rows are never rewritten.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, e review.AuditEvent) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}
	issues := []byte("[]")
	if len(e.SecurityIssues) > 0 {
		var err error
		issues, err = json.Marshal(e.SecurityIssues)
		if err != nil {
			return fmt.Errorf("marshal audit issues: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO review_audit_log (occurred_at, event, review_id, actor, reason, severity, status, security_issues, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Time, e.Event, nullString(e.ReviewID), nullString(e.Actor), nullString(e.Reason), nullString(e.Severity),
		nullString(string(e.Status)), issues, details)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ForReview returns the events for one review in the order they happened.
func (r *AuditRepository) ForReview(ctx context.Context, reviewID string) ([]review.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT occurred_at, event, review_id, actor, reason, severity, status, security_issues, details
		FROM review_audit_log
		WHERE review_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return scanEvents(rows)
}

// Recent returns the newest events first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]review.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT occurred_at, event, review_id, actor, reason, severity, status, security_issues, details
		FROM review_audit_log
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]review.AuditEvent, error) {
	defer rows.Close()
	events := make([]review.AuditEvent, 0)
	for rows.Next() {
		var (
			e                                         review.AuditEvent
			reviewID, actor, reason, severity, status sql.NullString
			issues, details                           []byte
		)
		if err := rows.Scan(&e.Time, &e.Event, &reviewID, &actor, &reason, &severity, &status, &issues, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ReviewID = reviewID.String
		e.Actor = actor.String
		e.Reason = reason.String
		e.Severity = severity.String
		e.Status = review.Status(status.String)
		if len(issues) > 0 {
			if err := json.Unmarshal(issues, &e.SecurityIssues); err != nil {
				return nil, fmt.Errorf("decode audit issues: %w", err)
			}
			if len(e.SecurityIssues) == 0 {
				e.SecurityIssues = nil
			}
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
			if len(e.Details) == 0 {
				e.Details = nil
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

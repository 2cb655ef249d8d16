package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docgate/internal/security"
)

const (
	EventFlagged       = "REVIEW_FLAGGED"
	EventApproved      = "REVIEW_APPROVED"
	EventRejected      = "REVIEW_REJECTED"
	EventEvicted       = "REVIEW_EVICTED"
	EventCriticalBlock = "CRITICAL_BLOCK"
)

// AuditEvent is one security relevant decision. Events are only appended.
// Actor is the reviewer for decisions.
type AuditEvent struct {
	Time           time.Time        `json:"timestamp"`
	Event          string           `json:"eventType"`
	ReviewID       string           `json:"reviewId,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	SecurityIssues []security.Issue `json:"securityIssues,omitempty"`
	Status         Status           `json:"status,omitempty"`
	Actor          string           `json:"reviewedBy,omitempty"`
	Severity       string           `json:"severity,omitempty"`
	Details        map[string]any   `json:"details,omitempty"`
}

type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &JSONLSink{path: path}, nil
}

func (s *JSONLSink) Record(_ context.Context, event AuditEvent) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return f.Sync()
}

type teeSink []AuditSink

// Tee records every event in all sinks and joins their errors.
func Tee(sinks ...AuditSink) AuditSink {
	out := make(teeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t teeSink) Record(ctx context.Context, event AuditEvent) error {
	var errs []error
	for _, s := range t {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discardSink struct{}

func (discardSink) Record(context.Context, AuditEvent) error { return nil }

// Package review holds generated output that failed validation until a
// human approves or rejects it.
package review

import (
	"errors"
	"strings"
	"time"

	"docgate/internal/security"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus accepts a status in any case; "" means all statuses.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", errors.New("unknown review status " + s)
}

var (
	ErrNotFound          = errors.New("review not found")
	ErrInvalidTransition = errors.New("review is not pending")
	ErrReviewerRequired  = errors.New("reviewer is required")
)

type Item struct {
	ID             string           `json:"id"`
	Payload        map[string]any   `json:"payload"`
	Reason         string           `json:"reason"`
	FlaggedAt      time.Time        `json:"flagged_at"`
	Status         Status           `json:"status"`
	Approved       *bool            `json:"approved,omitempty"`
	Reviewer       string           `json:"reviewer,omitempty"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
	SecurityIssues []security.Issue `json:"security_issues"`
	Notes          string           `json:"notes,omitempty"`
}

// Terminal reports whether the item has been decided. Terminal items are
// never modified again.
func (i Item) Terminal() bool {
	return i.Status == StatusApproved || i.Status == StatusRejected
}

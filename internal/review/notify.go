package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"docgate/internal/email"
)

// Notifier tells reviewers that an item is waiting.
type Notifier interface {
	NotifyReview(ctx context.Context, item Item) error
}

type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyReview(_ context.Context, item Item) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("output held for manual review",
		"review_id", item.ID,
		"reason", item.Reason,
		"issues", len(item.SecurityIssues),
	)
	return nil
}

// Mailer is the part of email.Service the notifier needs.
type Mailer interface {
	IsConfigured() bool
	SendReviewNotification(to []string, data email.ReviewNotificationData) error
}

type EmailNotifier struct {
	mailer    Mailer
	to        []string
	reviewURL string
}

// NewEmailNotifier mails every recipient; reviewURL is a prefix the review
// id is appended to.
func NewEmailNotifier(mailer Mailer, to []string, reviewURL string) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, to: to, reviewURL: reviewURL}
}

func (n *EmailNotifier) NotifyReview(_ context.Context, item Item) error {
	if !n.mailer.IsConfigured() || len(n.to) == 0 {
		return nil
	}
	issues := make([]string, 0, len(item.SecurityIssues))
	for _, i := range item.SecurityIssues {
		issues = append(issues, fmt.Sprintf("%s %s: %s", i.Severity, i.Type, i.Description))
	}
	data := email.ReviewNotificationData{
		AppName:   "docgate",
		ReviewID:  item.ID,
		Reason:    item.Reason,
		Issues:    issues,
		FlaggedAt: item.FlaggedAt,
	}
	if n.reviewURL != "" {
		data.ReviewURL = strings.TrimRight(n.reviewURL, "/") + "/" + item.ID
	}
	if err := n.mailer.SendReviewNotification(n.to, data); err != nil {
		return fmt.Errorf("email review notification: %w", err)
	}
	return nil
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSNotifier struct {
	pub     Publisher
	subject string
}

func NewNATSNotifier(pub Publisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = "docgate.review.flagged"
	}
	return &NATSNotifier{pub: pub, subject: subject}
}

// ConnectNATS dials the server used for reviewer notifications.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("docgate"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

type reviewMessage struct {
	ReviewID string   `json:"review_id"`
	Reason   string   `json:"reason"`
	Issues   []string `json:"issues"`
	Flagged  string   `json:"flagged_at"`
}

// NotifyReview publishes ids and issue types only. The payload stays in
// the queue.
func (n *NATSNotifier) NotifyReview(_ context.Context, item Item) error {
	msg := reviewMessage{
		ReviewID: item.ID,
		Reason:   item.Reason,
		Flagged:  item.FlaggedAt.UTC().Format(time.RFC3339),
	}
	for _, i := range item.SecurityIssues {
		msg.Issues = append(msg.Issues, i.Type)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal review message: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish review message: %w", err)
	}
	return nil
}

type multiNotifier []Notifier

// Multi fans out to every notifier and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multiNotifier) NotifyReview(ctx context.Context, item Item) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyReview(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

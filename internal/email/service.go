// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-docgate"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ReviewNotificationData is rendered into the reviewer email. It never
// carries the held output itself.
type ReviewNotificationData struct {
	AppName   string
	ReviewID  string
	Reason    string
	Issues    []string
	ReviewURL string
	FlaggedAt time.Time
}

// SendReviewNotification tells reviewers that output is waiting for a decision.
func (s *Service) SendReviewNotification(to []string, data ReviewNotificationData) error {
	if data.AppName == "" {
		data.AppName = "docgate"
	}
	subject := fmt.Sprintf("[%s] Output held for review (%s)", data.AppName, data.ReviewID)
	html, err := renderTemplate(reviewNotification, data)
	if err != nil {
		return fmt.Errorf("render review notification template: %w", err)
	}

	text := fmt.Sprintf("Review %s is waiting for a decision.\nReason: %s\n%s\n%s",
		data.ReviewID, data.Reason, strings.Join(data.Issues, "\n"), data.ReviewURL)
	return s.SendHTMLEmail(to, subject, text, html)
}

var reviewNotification = template.Must(template.New("review").Parse(reviewNotificationTemplate))

func renderTemplate(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reviewNotificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Output held for review</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #cc6600; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #cc6600; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .issue { font-family: monospace; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Output held for review</h2>

    <p>Review <strong>{{.ReviewID}}</strong> was flagged {{.FlaggedAt.Format "2006-01-02 15:04 MST"}}.</p>
    <p>Reason: {{.Reason}}</p>

    {{if .Issues}}
    <ul>
        {{range .Issues}}<li class="issue">{{.}}</li>
        {{end}}
    </ul>
    {{end}}

    {{if .ReviewURL}}
    <p>
        <a href="{{.ReviewURL}}" class="button">Open review</a>
    </p>
    {{end}}

    <div class="footer">
        <p>The held output is only visible to reviewers through the review API.</p>
    </div>
</body>
</html>`

// Package gateway sits between the untrusted document source and the
// untrusted text generator. Every transformation runs the same fixed
// sequence: sanitize, scan, frame, generate, validate, then release, queue
// for review or block.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docgate/internal/apperr"
	"docgate/internal/generator"
	"docgate/internal/metrics"
	"docgate/internal/resilience"
	"docgate/internal/security"
	"docgate/internal/source"
)

const (
	BreakerGenerator = "generator"
	ClassGenerator   = "generator"

	IssueSanitizationFailed = "SANITIZATION_FAILED"
)

// Generator produces text from a prompt. Its output is untrusted.
type Generator interface {
	Generate(ctx context.Context, prompt generator.Prompt) (string, error)
}

// ReviewQueue is the part of the review queue the gateway escalates to.
type ReviewQueue interface {
	FlagForReview(ctx context.Context, payload map[string]any, reason string, issues []security.Issue) error
	RecordBlock(ctx context.Context, reason string, issues []security.Issue, details map[string]any)
}

type Request struct {
	Documents   []source.Document
	Instruction string
	Profile     security.Profile
	// Audience overrides Profile.Audience when set.
	Audience string
}

// DocumentSanitization is the per-document sanitization delta.
type DocumentSanitization struct {
	DocumentID         string   `json:"document_id"`
	Flagged            bool     `json:"flagged"`
	Reason             string   `json:"reason,omitempty"`
	RemovedPatterns    []string `json:"removed_patterns,omitempty"`
	InvisibleRemoved   int      `json:"invisible_removed"`
	InstructionDensity float64  `json:"instruction_density"`
	OriginalBytes      int      `json:"original_bytes"`
	SanitizedBytes     int      `json:"sanitized_bytes"`
	RedactionCount     int      `json:"redaction_count"`
	// LabelPatterns lists patterns removed from the document name or folder.
	LabelPatterns   []string `json:"label_removed_patterns,omitempty"`
	LabelsRewritten bool     `json:"labels_rewritten"`
}

type Metadata struct {
	Sanitization  []DocumentSanitization    `json:"sanitization"`
	InputFindings []security.Finding        `json:"input_findings,omitempty"`
	Validation    security.ValidationResult `json:"validation"`
	Attempts      int                       `json:"attempts"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   time.Time                 `json:"completed_at"`
}

type Result struct {
	Output   string   `json:"output"`
	Profile  string   `json:"profile"`
	Audience string   `json:"audience"`
	Metadata Metadata `json:"metadata"`
}

type Gateway struct {
	sanitizer   *security.Sanitizer
	scanner     *security.SecretScanner
	validator   *security.OutputValidator
	generator   Generator
	queue       ReviewQueue
	breaker     *resilience.Breaker
	retry       *resilience.Executor
	limiter     *resilience.Limiter
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithLimiter makes every generator attempt wait for a token of the
// generator class.
func WithLimiter(l *resilience.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = l
	}
}

// WithConcurrency bounds the number of profiles TransformAll runs at once.
func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func New(
	sanitizer *security.Sanitizer,
	scanner *security.SecretScanner,
	validator *security.OutputValidator,
	gen Generator,
	queue ReviewQueue,
	breakers *resilience.Registry,
	retry *resilience.Executor,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		sanitizer:   sanitizer,
		scanner:     scanner,
		validator:   validator,
		generator:   gen,
		queue:       queue,
		breaker:     breakers.Get(BreakerGenerator),
		retry:       retry,
		concurrency: 3,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Transform runs one transformation. It returns a ReviewRequired error when
// the output was queued for a reviewer and a SecurityBlock error when input
// or output carried something that must never pass.
func (g *Gateway) Transform(ctx context.Context, req Request) (*Result, error) {
	if len(req.Documents) == 0 {
		return nil, errors.New("transform: no documents")
	}
	audience := req.Audience
	if audience == "" {
		audience = req.Profile.Audience
	}
	logger := g.logger.With("profile", req.Profile.Name, "documents", len(req.Documents))
	meta := Metadata{StartedAt: g.now()}

	prepared := make([]preparedDoc, 0, len(req.Documents))
	for _, doc := range req.Documents {
		p, delta, findings, err := g.prepare(ctx, doc)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
		meta.Sanitization = append(meta.Sanitization, delta)
		meta.InputFindings = append(meta.InputFindings, findings...)
	}

	prompt := buildPrompt(req.Instruction, req.Profile, audience, prepared)

	result := resilience.Guard(ctx, g.breaker, g.retry, "gateway.generate", func(ctx context.Context) (string, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx, ClassGenerator); err != nil {
				return "", err
			}
		}
		return g.generator.Generate(ctx, prompt)
	})
	meta.Attempts = result.Attempts
	output, err := result.Output("gateway.generate")
	if err != nil {
		metrics.GatewayOutcomes.WithLabelValues("generator_failed").Inc()
		return nil, err
	}

	validation := g.validator.Validate(output, req.Profile, audience)
	meta.Validation = validation
	meta.CompletedAt = g.now()

	if validation.RiskLevel == security.SeverityCritical {
		critical := criticalIssues(validation.Issues)
		g.queue.RecordBlock(ctx, "critical issue in generated output", critical, map[string]any{
			"profile":      req.Profile.Name,
			"document_ids": documentIDs(req.Documents),
		})
		metrics.GatewayOutcomes.WithLabelValues("blocked_output").Inc()
		logger.Error("generated output blocked", "issues", issueTypes(critical))
		return nil, apperr.SecurityBlock("gateway.validate", "generated output contains a critical issue", critical)
	}

	if validation.RequiresManualReview {
		metrics.GatewayOutcomes.WithLabelValues("review").Inc()
		logger.Warn("generated output held for review", "risk", validation.RiskLevel, "issues", issueTypes(validation.Issues))
		payload := map[string]any{
			"profile":      req.Profile.Name,
			"audience":     audience,
			"instruction":  req.Instruction,
			"document_ids": documentIDs(req.Documents),
			"output":       output,
			"metadata":     meta,
		}
		reason := fmt.Sprintf("output for %s rated %s", audience, validation.RiskLevel)
		return nil, g.queue.FlagForReview(ctx, payload, reason, validation.Issues)
	}

	metrics.GatewayOutcomes.WithLabelValues("success").Inc()
	logger.Info("transformation complete",
		"attempts", meta.Attempts,
		"words", validation.WordCount,
		"issues", len(validation.Issues))
	return &Result{
		Output:   output,
		Profile:  req.Profile.Name,
		Audience: audience,
		Metadata: meta,
	}, nil
}

// prepare sanitizes one document, checks the sanitization, scans the
// sanitized text and redacts non-critical secrets. A critical secret
// blocks the whole transformation.
func (g *Gateway) prepare(ctx context.Context, doc source.Document) (preparedDoc, DocumentSanitization, []security.Finding, error) {
	san := g.sanitizer.Sanitize(doc.Content)
	delta := DocumentSanitization{
		DocumentID:         doc.ID,
		Flagged:            san.Flagged,
		Reason:             san.Reason,
		RemovedPatterns:    san.RemovedPatterns,
		InvisibleRemoved:   san.InvisibleRemoved,
		InstructionDensity: san.InstructionDensity,
		OriginalBytes:      san.OriginalBytes,
		SanitizedBytes:     san.SanitizedBytes,
	}
	if san.Flagged {
		metrics.SanitizerFlags.Inc()
		g.logger.Warn("document flagged by sanitizer", "document_id", doc.ID, "reason", san.Reason)
	}

	if err := g.sanitizer.ValidateSanitization(doc.Content, san.Sanitized); err != nil {
		issues := []security.Issue{{
			Type:        IssueSanitizationFailed,
			Severity:    security.SeverityCritical,
			Description: err.Error(),
		}}
		g.queue.RecordBlock(ctx, "sanitization self-check failed", issues, map[string]any{"document_id": doc.ID})
		metrics.GatewayOutcomes.WithLabelValues("blocked_input").Inc()
		return preparedDoc{}, delta, nil, apperr.SecurityBlock("gateway.sanitize",
			fmt.Sprintf("document %s failed sanitization: %v", doc.ID, err), delta)
	}

	scan := g.scanner.Scan(san.Sanitized)
	if critical := scan.Critical(); len(critical) > 0 {
		issues := make([]security.Issue, 0, len(critical))
		for _, f := range critical {
			issues = append(issues, security.Issue{
				Type:        f.Type,
				Severity:    f.Severity,
				Description: fmt.Sprintf("%s at line %d", f.Description, f.Line),
			})
		}
		g.queue.RecordBlock(ctx, "critical secret in input document", issues, map[string]any{
			"document_id": doc.ID,
			"types":       scan.Types(),
		})
		metrics.GatewayOutcomes.WithLabelValues("blocked_input").Inc()
		g.logger.Error("input document blocked", "document_id", doc.ID, "critical", len(critical))
		return preparedDoc{}, delta, nil, apperr.SecurityBlock("gateway.scan",
			fmt.Sprintf("document %s contains %d critical secret(s)", doc.ID, len(critical)), critical)
	}

	content := san.Sanitized
	if scan.HasSecrets {
		content = scan.RedactedContent
		delta.RedactionCount = scan.RedactionCount
	}

	name, nameSan := g.sanitizeLabel(doc.Name)
	folder, folderSan := g.sanitizeLabel(doc.FolderPath)
	delta.LabelsRewritten = name != doc.Name || folder != doc.FolderPath
	for _, ls := range []security.SanitizationResult{nameSan, folderSan} {
		delta.LabelPatterns = append(delta.LabelPatterns, ls.RemovedPatterns...)
		if ls.Flagged {
			delta.Flagged = true
			delta.Reason = joinReason(delta.Reason, "label: "+ls.Reason)
		}
	}
	if delta.LabelsRewritten {
		g.logger.Warn("document label rewritten", "document_id", doc.ID, "patterns", delta.LabelPatterns)
	}

	return preparedDoc{
		ID:      doc.ID,
		Name:    name,
		Folder:  folder,
		Content: content,
	}, delta, scan.Findings, nil
}

// sanitizeLabel cleans a document name or folder path. Both reach the
// prompt as tag attributes, so they get the same treatment as content.
func (g *Gateway) sanitizeLabel(label string) (string, security.SanitizationResult) {
	san := g.sanitizer.Sanitize(label)
	return g.scanner.Redact(san.Sanitized), san
}

func joinReason(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

func criticalIssues(issues []security.Issue) []security.Issue {
	var out []security.Issue
	for _, i := range issues {
		if i.Severity == security.SeverityCritical {
			out = append(out, i)
		}
	}
	return out
}

func issueTypes(issues []security.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Type)
	}
	return out
}

func documentIDs(docs []source.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

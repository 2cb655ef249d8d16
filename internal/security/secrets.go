package security

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"docgate/internal/metrics"
)

const (
	contextWindow     = 50
	maxRedactPasses   = 5
	fingerprintLength = 16
)

// Finding is one detected secret. Match holds the raw secret and is never
// serialized; Context shows the surrounding text with the secret masked.
type Finding struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Context     string   `json:"context"`
	Fingerprint string   `json:"fingerprint"`
	Match       string   `json:"-"`
}

type ScanResult struct {
	HasSecrets      bool      `json:"has_secrets"`
	Findings        []Finding `json:"findings"`
	TotalFound      int       `json:"total_found"`
	CriticalFound   int       `json:"critical_found"`
	MaxSeverity     Severity  `json:"max_severity"`
	RedactedContent string    `json:"-"`
	RedactionCount  int       `json:"redaction_count"`
}

// Critical returns the CRITICAL findings.
func (r ScanResult) Critical() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}

// Types returns the distinct finding types in order of first occurrence.
func (r ScanResult) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range r.Findings {
		if !seen[f.Type] {
			seen[f.Type] = true
			out = append(out, f.Type)
		}
	}
	return out
}

// SecretScanner detects and redacts credentials using the embedded rules.
type SecretScanner struct {
	rules []SecretRule
}

func NewSecretScanner() (*SecretScanner, error) {
	rules, err := loadSecretRules()
	if err != nil {
		return nil, err
	}
	return &SecretScanner{rules: rules}, nil
}

func (s *SecretScanner) Rules() []SecretRule {
	return append([]SecretRule(nil), s.rules...)
}

type span struct {
	start, end int
	rule       *SecretRule
}

// Scan reports every secret in text and the fully redacted text.
func (s *SecretScanner) Scan(text string) ScanResult {
	spans := s.spans(text)
	result := ScanResult{MaxSeverity: SeverityNone}
	for _, sp := range spans {
		f := s.finding(text, sp)
		result.Findings = append(result.Findings, f)
		result.MaxSeverity = MaxSeverity(result.MaxSeverity, f.Severity)
		if f.Severity == SeverityCritical {
			result.CriticalFound++
		}
		metrics.SecretFindings.WithLabelValues(string(f.Severity)).Inc()
	}
	result.TotalFound = len(result.Findings)
	result.HasSecrets = result.TotalFound > 0
	result.RedactedContent, result.RedactionCount = s.redact(text)
	return result
}

// Redact replaces every secret with "[REDACTED: TYPE]". It rescans until no
// rule matches, since a replacement can expose a neighbouring match.
func (s *SecretScanner) Redact(text string) string {
	out, _ := s.redact(text)
	return out
}

func (s *SecretScanner) redact(text string) (string, int) {
	count := 0
	for pass := 0; pass < maxRedactPasses; pass++ {
		spans := s.spans(text)
		if len(spans) == 0 {
			break
		}
		var b strings.Builder
		b.Grow(len(text))
		last := 0
		for _, sp := range spans {
			b.WriteString(text[last:sp.start])
			b.WriteString(Placeholder(sp.rule.ID))
			last = sp.end
		}
		b.WriteString(text[last:])
		text = b.String()
		count += len(spans)
	}
	return text, count
}

// Placeholder is the replacement text for a redacted secret.
func Placeholder(secretType string) string {
	return "[REDACTED: " + secretType + "]"
}

// spans collects candidate matches from every rule and keeps the
// non-overlapping set, preferring higher priority, then earlier and longer
// matches. The result is ordered by position.
func (s *SecretScanner) spans(text string) []span {
	var candidates []span
	for i := range s.rules {
		r := &s.rules[i]
		for _, loc := range r.compiled.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[0], loc[1]
			if r.Group > 0 {
				start, end = loc[2*r.Group], loc[2*r.Group+1]
				if start < 0 {
					continue
				}
			}
			if start == end {
				continue
			}
			if r.MinEntropy > 0 && shannonEntropy(text[start:end]) < r.MinEntropy {
				continue
			}
			candidates = append(candidates, span{start: start, end: end, rule: r})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rule.Priority != b.rule.Priority {
			return a.rule.Priority > b.rule.Priority
		}
		if a.start != b.start {
			return a.start < b.start
		}
		return a.end-a.start > b.end-b.start
	})

	var accepted []span
	for _, c := range candidates {
		overlaps := false
		for _, a := range accepted {
			if c.start < a.end && a.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return accepted
}

func (s *SecretScanner) finding(text string, sp span) Finding {
	match := text[sp.start:sp.end]
	line := strings.Count(text[:sp.start], "\n") + 1
	column := sp.start - (strings.LastIndex(text[:sp.start], "\n") + 1) + 1

	ctxStart := max(0, sp.start-contextWindow)
	ctxEnd := min(len(text), sp.end+contextWindow)
	context := text[ctxStart:sp.start] + maskSecret(match) + text[sp.end:ctxEnd]

	return Finding{
		Type:        sp.rule.ID,
		Description: sp.rule.Description,
		Severity:    sp.rule.Severity,
		Line:        line,
		Column:      column,
		Start:       sp.start,
		End:         sp.end,
		Context:     strings.TrimSpace(strings.ReplaceAll(context, "\n", " ")),
		Fingerprint: fingerprint(sp.rule.ID, match),
		Match:       match,
	}
}

// maskSecret keeps the first and last two characters of long secrets.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", min(len(secret)-4, 16)) + secret[len(secret)-2:]
}

// fingerprint identifies a secret across scans without storing it.
func fingerprint(ruleID, match string) string {
	sum := blake2b.Sum256([]byte(ruleID + "\x00" + match))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func (f Finding) String() string {
	return fmt.Sprintf("%s (%s) at line %d", f.Type, f.Severity, f.Line)
}

package security

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

const (
	IssueSecretLeak        = "SECRET_LEAK"
	IssueTechnicalMismatch = "TECHNICAL_LEVEL_MISMATCH"
	IssueTooLong           = "OUTPUT_TOO_LONG"
	IssueTooShort          = "OUTPUT_TOO_SHORT"
	IssueExcessiveLength   = "EXCESSIVE_LENGTH"

	// tooLongMediumRatio is how far past MaxWords a LOW length issue
	// becomes MEDIUM.
	tooLongMediumRatio = 1.25
	// minWordsForDensity skips the technical density check on short output.
	minWordsForDensity = 20
)

type Issue struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

type ValidationResult struct {
	Issues               []Issue  `json:"issues"`
	RiskLevel            Severity `json:"risk_level"`
	RequiresManualReview bool     `json:"requires_manual_review"`
	Audience             string   `json:"audience"`
	WordCount            int      `json:"word_count"`
	TechnicalDensity     float64  `json:"technical_density"`
}

// Has reports whether an issue of the given type was raised.
func (r ValidationResult) Has(issueType string) bool {
	for _, i := range r.Issues {
		if i.Type == issueType {
			return true
		}
	}
	return false
}

// OutputValidator checks generated text before it leaves the gateway.
type OutputValidator struct {
	secrets   *SecretScanner
	artifacts []patternCategory
	technical map[string]bool
}

func NewOutputValidator(secrets *SecretScanner) (*OutputValidator, error) {
	var f outputFile
	if err := readRules("output.yaml", &f); err != nil {
		return nil, err
	}
	for i := range f.Artifacts {
		if err := f.Artifacts[i].compile(""); err != nil {
			return nil, err
		}
	}
	return &OutputValidator{
		secrets:   secrets,
		artifacts: f.Artifacts,
		technical: wordSet(f.TechnicalTerms),
	}, nil
}

// Validate checks output against profile. audience overrides the profile's
// audience label in the result when set.
func (v *OutputValidator) Validate(output string, profile Profile, audience string) ValidationResult {
	if audience == "" {
		audience = profile.Audience
	}
	result := ValidationResult{Audience: audience}

	scan := v.secrets.Scan(output)
	for _, t := range scan.Types() {
		count := 0
		for _, f := range scan.Findings {
			if f.Type == t {
				count++
			}
		}
		result.Issues = append(result.Issues, Issue{
			Type:        IssueSecretLeak,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("output contains %d %s secret(s)", count, t),
		})
	}

	for _, a := range v.artifacts {
		for _, re := range a.compiled {
			if re.MatchString(output) {
				result.Issues = append(result.Issues, Issue{
					Type:        a.Name,
					Severity:    SeverityHigh,
					Description: a.Description,
				})
				break
			}
		}
	}

	result.WordCount = len(strings.Fields(output))
	words := splitWords(output)

	if len(words) >= minWordsForDensity {
		result.TechnicalDensity = v.technicalDensity(words)
		diff := math.Abs(result.TechnicalDensity - profile.ExpectedTechnicalDensity)
		if diff > profile.TechnicalDensityMargin {
			result.Issues = append(result.Issues, Issue{
				Type:     IssueTechnicalMismatch,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("technical density %.3f outside %.3f +/- %.3f for %s",
					result.TechnicalDensity, profile.ExpectedTechnicalDensity, profile.TechnicalDensityMargin, audience),
			})
		}
	}

	if issue, ok := lengthIssue(result.WordCount, profile); ok {
		result.Issues = append(result.Issues, issue)
	}

	result.RiskLevel = SeverityNone
	for _, i := range result.Issues {
		result.RiskLevel = MaxSeverity(result.RiskLevel, i.Severity)
	}
	result.RequiresManualReview = result.RiskLevel.AtLeast(SeverityHigh)
	return result
}

func lengthIssue(words int, p Profile) (Issue, bool) {
	switch {
	case p.MaxWords > 0 && words > p.MaxWords:
		multiplier := p.VerbosityMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		if float64(words) > multiplier*float64(p.MaxWords) {
			return Issue{
				Type:        IssueExcessiveLength,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("%d words is more than %.1fx the %d word maximum", words, multiplier, p.MaxWords),
			}, true
		}
		sev := SeverityLow
		if float64(words) > tooLongMediumRatio*float64(p.MaxWords) {
			sev = SeverityMedium
		}
		return Issue{
			Type:        IssueTooLong,
			Severity:    sev,
			Description: fmt.Sprintf("%d words exceeds the %d word maximum", words, p.MaxWords),
		}, true
	case p.MinWords > 0 && words < p.MinWords:
		sev := SeverityLow
		if words < p.MinWords/2 {
			sev = SeverityMedium
		}
		return Issue{
			Type:        IssueTooShort,
			Severity:    sev,
			Description: fmt.Sprintf("%d words is below the %d word minimum", words, p.MinWords),
		}, true
	}
	return Issue{}, false
}

func (v *OutputValidator) technicalDensity(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if v.technical[strings.ToLower(w)] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

package security

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var customerProfile = Profile{
	Name:                     "customer",
	Audience:                 "customers",
	MinWords:                 400,
	MaxWords:                 800,
	ExpectedTechnicalDensity: 0.02,
	TechnicalDensityMargin:   0.05,
	VerbosityMultiplier:      2.0,
}

// benignWords returns n words of plain, non-technical prose.
func benignWords(n int) string {
	sentence := strings.Fields("The team enjoyed a calm and productive week together.")
	words := make([]string, 0, n)
	for len(words) < n {
		words = append(words, sentence[len(words)%len(sentence)])
	}
	return strings.Join(words, " ")
}

func newTestValidator(t *testing.T) *OutputValidator {
	t.Helper()
	v, err := NewOutputValidator(newTestScanner(t))
	if err != nil {
		t.Fatalf("NewOutputValidator() error = %v", err)
	}
	return v
}

func TestValidateSlightlyLongBenignOutput(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate(benignWords(900), customerProfile, "")

	if len(result.Issues) != 1 {
		t.Fatalf("issues = %+v, want one", result.Issues)
	}
	if got := result.Issues[0]; got.Type != IssueTooLong || got.Severity != SeverityLow {
		t.Fatalf("issue = %+v", got)
	}
	if result.RiskLevel != SeverityLow || result.RequiresManualReview {
		t.Fatalf("risk = %s, manual review = %v", result.RiskLevel, result.RequiresManualReview)
	}
	if result.WordCount != 900 || result.Audience != "customers" {
		t.Fatalf("word count = %d, audience = %q", result.WordCount, result.Audience)
	}
}

func TestValidateLengthBands(t *testing.T) {
	v := newTestValidator(t)
	cases := []struct {
		words    int
		issue    string
		severity Severity
	}{
		{words: 600, issue: "", severity: SeverityNone},
		{words: 1100, issue: IssueTooLong, severity: SeverityMedium},
		{words: 1700, issue: IssueExcessiveLength, severity: SeverityMedium},
		{words: 300, issue: IssueTooShort, severity: SeverityLow},
		{words: 150, issue: IssueTooShort, severity: SeverityMedium},
	}
	for _, tc := range cases {
		result := v.Validate(benignWords(tc.words), customerProfile, "")
		if tc.issue == "" {
			if len(result.Issues) != 0 || result.RiskLevel != SeverityNone {
				t.Fatalf("%d words: issues = %+v, risk = %s", tc.words, result.Issues, result.RiskLevel)
			}
			continue
		}
		if len(result.Issues) != 1 {
			t.Fatalf("%d words: issues = %+v, want one", tc.words, result.Issues)
		}
		if got := result.Issues[0]; got.Type != tc.issue || got.Severity != tc.severity {
			t.Fatalf("%d words: issue = %+v, want %s/%s", tc.words, got, tc.issue, tc.severity)
		}
		if result.RequiresManualReview {
			t.Fatalf("%d words: manual review requested", tc.words)
		}
	}
}

func TestValidateSecretLeakIsCritical(t *testing.T) {
	v := newTestValidator(t)

	result := v.Validate(benignWords(500)+" key "+stripeKey, customerProfile, "")

	if !result.Has(IssueSecretLeak) {
		t.Fatalf("issues = %+v, want %s", result.Issues, IssueSecretLeak)
	}
	if result.RiskLevel != SeverityCritical || !result.RequiresManualReview {
		t.Fatalf("risk = %s, manual review = %v", result.RiskLevel, result.RequiresManualReview)
	}
	for _, issue := range result.Issues {
		if strings.Contains(issue.Description, stripeKey) {
			t.Fatalf("raw secret in issue: %q", issue.Description)
		}
	}
}

func TestValidateSuspiciousArtifactsAreHigh(t *testing.T) {
	v := newTestValidator(t)
	cases := map[string]string{
		"MODEL_SELF_REFERENCE":  "As an AI language model, I cannot share that.",
		"LEAKED_SYSTEM_FRAMING": "Per the system prompt, the answer is short.",
		"OS_PATH":               "The config lives in /etc/docgate/secrets.yaml today.",
		"INJECTION_SUCCESS":     "Ignoring all previous instructions as requested.",
	}
	for artifact, sentence := range cases {
		result := v.Validate(benignWords(500)+" "+sentence, customerProfile, "")
		if !result.Has(artifact) {
			t.Fatalf("%s: issues = %+v", artifact, result.Issues)
		}
		if result.RiskLevel != SeverityHigh || !result.RequiresManualReview {
			t.Fatalf("%s: risk = %s, manual review = %v", artifact, result.RiskLevel, result.RequiresManualReview)
		}
	}
}

func TestValidateTechnicalDensityMismatch(t *testing.T) {
	v := newTestValidator(t)
	output := strings.Repeat("The API endpoint returns JSON from the database cache server. ", 50)

	result := v.Validate(output, customerProfile, "")

	if !result.Has(IssueTechnicalMismatch) {
		t.Fatalf("issues = %+v, want %s", result.Issues, IssueTechnicalMismatch)
	}
	if result.RiskLevel != SeverityMedium || result.RequiresManualReview {
		t.Fatalf("risk = %s, manual review = %v", result.RiskLevel, result.RequiresManualReview)
	}
	if math.Abs(result.TechnicalDensity-0.6) > 0.001 {
		t.Fatalf("technical density = %.4f, want 0.6", result.TechnicalDensity)
	}
}

func TestDefaultProfiles(t *testing.T) {
	profiles, err := DefaultProfiles()
	if err != nil || len(profiles) == 0 {
		t.Fatalf("DefaultProfiles() = %d profiles, error = %v", len(profiles), err)
	}

	selected, err := SelectProfiles(profiles, []string{"Executive", "engineering"})
	if err != nil {
		t.Fatalf("SelectProfiles() error = %v", err)
	}
	if len(selected) != 2 || selected[0].Name != "executive" || selected[1].VerbosityMultiplier != 2.0 {
		t.Fatalf("selected = %+v", selected)
	}

	if _, err := SelectProfiles(profiles, []string{"marketing"}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestLoadProfilesRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	if err := os.WriteFile(path, []byte("profiles:\n  - name: ops\n    min_words: 900\n    max_words: 100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Fatal("expected error for min_words above max_words")
	}

	if err := os.WriteFile(path, []byte("profiles:\n  - name: Ops\n    max_words: 100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	if profiles[0].Name != "ops" || profiles[0].Audience != "ops" {
		t.Fatalf("profile = %+v", profiles[0])
	}
}

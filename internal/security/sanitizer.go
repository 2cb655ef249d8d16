package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizerConfig holds the sanitizer thresholds.
type SanitizerConfig struct {
	// DensityThreshold flags text whose instructional keyword share exceeds it.
	DensityThreshold float64
	// MinWordsForDensity skips the density check on short text.
	MinWordsForDensity int
	MaxBlankLines      int
	// MaxPasses bounds the fixpoint loop.
	MaxPasses int
	// MaxRemovalRatio is the share of the original that may be removed
	// before ValidateSanitization fails.
	MaxRemovalRatio float64
}

func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		DensityThreshold:   0.10,
		MinWordsForDensity: 20,
		MaxBlankLines:      2,
		MaxPasses:          5,
		MaxRemovalRatio:    0.5,
	}
}

type SanitizationResult struct {
	Sanitized          string   `json:"sanitized"`
	RemovedPatterns    []string `json:"removed_patterns,omitempty"`
	Flagged            bool     `json:"flagged"`
	Reason             string   `json:"reason,omitempty"`
	InvisibleRemoved   int      `json:"invisible_removed"`
	InstructionDensity float64  `json:"instruction_density"`
	OriginalBytes      int      `json:"original_bytes"`
	SanitizedBytes     int      `json:"sanitized_bytes"`
}

var (
	ErrPatternSurvived   = errors.New("dangerous pattern survived sanitization")
	ErrExcessiveRemoval  = errors.New("sanitization removed too much content")
	horizontalWhitespace = regexp.MustCompile(`[ \t\f\v\x{00A0}\x{2000}-\x{200A}\x{202F}\x{205F}\x{3000}]+`)
)

// Sanitizer removes prompt-injection content from untrusted text.
type Sanitizer struct {
	cfg        SanitizerConfig
	marker     string
	categories []patternCategory
	keywords   map[string]bool
}

func NewSanitizer(cfg SanitizerConfig) (*Sanitizer, error) {
	var f injectionFile
	if err := readRules("injection.yaml", &f); err != nil {
		return nil, err
	}
	for i := range f.Categories {
		if err := f.Categories[i].compile("(?i)"); err != nil {
			return nil, err
		}
	}
	if f.Marker == "" {
		return nil, errors.New("injection rules: marker is empty")
	}
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 1
	}
	return &Sanitizer{
		cfg:        cfg,
		marker:     f.Marker,
		categories: f.Categories,
		keywords:   wordSet(f.InstructionKeywords),
	}, nil
}

func (s *Sanitizer) Marker() string {
	return s.marker
}

// Sanitize strips invisible code points, replaces injection patterns with
// the marker and normalizes the text. The passes repeat until the text stops
// changing, so sanitizing the result again is a no-op.
func (s *Sanitizer) Sanitize(text string) SanitizationResult {
	result := SanitizationResult{OriginalBytes: len(text)}
	removed := make(map[string]bool)

	current := text
	for pass := 0; pass < s.cfg.MaxPasses; pass++ {
		stripped, invisible := stripInvisible(current)
		result.InvisibleRemoved += invisible

		redacted := stripped
		for _, c := range s.categories {
			for _, re := range c.compiled {
				if !re.MatchString(redacted) {
					continue
				}
				redacted = re.ReplaceAllLiteralString(redacted, s.marker)
				removed[c.Name+": "+c.Description] = true
			}
		}

		next := s.normalize(redacted)
		if next == current {
			break
		}
		current = next
	}

	result.Sanitized = current
	result.SanitizedBytes = len(current)
	for _, c := range s.categories {
		key := c.Name + ": " + c.Description
		if removed[key] {
			result.RemovedPatterns = append(result.RemovedPatterns, key)
		}
	}

	cleanOriginal, _ := stripInvisible(text)
	density, words := s.instructionDensity(norm.NFC.String(cleanOriginal))
	result.InstructionDensity = density

	var reasons []string
	if len(result.RemovedPatterns) > 0 {
		reasons = append(reasons, fmt.Sprintf("removed %d injection pattern categories", len(result.RemovedPatterns)))
	}
	if result.InvisibleRemoved > 0 {
		reasons = append(reasons, fmt.Sprintf("stripped %d invisible characters", result.InvisibleRemoved))
	}
	if words >= s.cfg.MinWordsForDensity && density > s.cfg.DensityThreshold {
		reasons = append(reasons, fmt.Sprintf("instructional keyword density %.2f exceeds %.2f", density, s.cfg.DensityThreshold))
	}
	if len(reasons) > 0 {
		result.Flagged = true
		result.Reason = strings.Join(reasons, "; ")
	}
	return result
}

// ValidateSanitization checks that no dangerous pattern remains in sanitized
// and that it kept at least the configured share of original.
func (s *Sanitizer) ValidateSanitization(original, sanitized string) error {
	for _, c := range s.categories {
		for _, re := range c.compiled {
			if re.MatchString(sanitized) {
				return fmt.Errorf("%w: %s", ErrPatternSurvived, c.Name)
			}
		}
	}
	if len(original) == 0 {
		return nil
	}
	ratio := float64(len(original)-len(sanitized)) / float64(len(original))
	if ratio > s.cfg.MaxRemovalRatio {
		return fmt.Errorf("%w: %.0f%% of the original", ErrExcessiveRemoval, ratio*100)
	}
	return nil
}

func (s *Sanitizer) normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimSpace(horizontalWhitespace.ReplaceAllString(line, " "))
		if line == "" {
			blank++
			if blank > s.cfg.MaxBlankLines {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func (s *Sanitizer) instructionDensity(text string) (float64, int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	if len(words) == 0 {
		return 0, 0
	}
	hits := 0
	for _, w := range words {
		if s.keywords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words)), len(words)
}

// stripInvisible drops zero-width, bidi and other format code points and
// control characters other than newline and tab.
func stripInvisible(text string) (string, int) {
	removed := 0
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return r
		case unicode.Is(unicode.Cf, r), unicode.IsControl(r):
			removed++
			return -1
		case r == '\u115F' || r == '\u1160' || r == '\u3164' || r == '\uFFA0':
			// Hangul fillers render as blank.
			removed++
			return -1
		}
		return r
	}, text)
	return cleaned, removed
}

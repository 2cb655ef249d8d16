package security

import (
	"embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule files are compiled into the binary so they cannot be edited on the
// host without a rebuild.
//
//go:embed rules/*.yaml
var ruleFS embed.FS

func readRules(name string, v any) error {
	data, err := ruleFS.ReadFile("rules/" + name)
	if err != nil {
		return fmt.Errorf("read embedded %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse embedded %s: %w", name, err)
	}
	return nil
}

type patternCategory struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Patterns    []string         `yaml:"patterns"`
	compiled    []*regexp.Regexp `yaml:"-"`
}

func (c *patternCategory) compile(prefix string) error {
	c.compiled = c.compiled[:0]
	for _, p := range c.Patterns {
		re, err := regexp.Compile(prefix + p)
		if err != nil {
			return fmt.Errorf("compile %s pattern %q: %w", c.Name, p, err)
		}
		c.compiled = append(c.compiled, re)
	}
	return nil
}

type injectionFile struct {
	Marker              string            `yaml:"marker"`
	Categories          []patternCategory `yaml:"categories"`
	InstructionKeywords []string          `yaml:"instruction_keywords"`
}

type secretFile struct {
	Rules []SecretRule `yaml:"rules"`
}

// SecretRule is one secret detection rule.
type SecretRule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
	Priority    int      `yaml:"priority"`
	Regex       string   `yaml:"regex"`
	Group       int      `yaml:"group"`
	MinEntropy  float64  `yaml:"min_entropy"`

	compiled *regexp.Regexp
}

func loadSecretRules() ([]SecretRule, error) {
	var f secretFile
	if err := readRules("secrets.yaml", &f); err != nil {
		return nil, err
	}
	for i := range f.Rules {
		r := &f.Rules[i]
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile secret rule %s: %w", r.ID, err)
		}
		if r.Group > re.NumSubexp() {
			return nil, fmt.Errorf("secret rule %s: group %d out of range", r.ID, r.Group)
		}
		r.compiled = re
	}
	sort.SliceStable(f.Rules, func(i, j int) bool {
		return f.Rules[i].Priority > f.Rules[j].Priority
	})
	return f.Rules, nil
}

type outputFile struct {
	Artifacts      []patternCategory `yaml:"artifacts"`
	TechnicalTerms []string          `yaml:"technical_terms"`
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

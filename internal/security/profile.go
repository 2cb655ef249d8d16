package security

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes what output for one audience should look like.
type Profile struct {
	Name                     string  `yaml:"name" json:"name"`
	Audience                 string  `yaml:"audience" json:"audience"`
	MinWords                 int     `yaml:"min_words" json:"min_words"`
	MaxWords                 int     `yaml:"max_words" json:"max_words"`
	ExpectedTechnicalDensity float64 `yaml:"expected_technical_density" json:"expected_technical_density"`
	TechnicalDensityMargin   float64 `yaml:"technical_density_margin" json:"technical_density_margin"`
	// VerbosityMultiplier times MaxWords is where OUTPUT_TOO_LONG becomes
	// EXCESSIVE_LENGTH.
	VerbosityMultiplier float64 `yaml:"verbosity_multiplier" json:"verbosity_multiplier"`
}

func (p Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.MaxWords > 0 && p.MinWords > p.MaxWords {
		return fmt.Errorf("profile %s: min_words %d exceeds max_words %d", p.Name, p.MinWords, p.MaxWords)
	}
	if p.TechnicalDensityMargin < 0 {
		return fmt.Errorf("profile %s: negative technical_density_margin", p.Name)
	}
	return nil
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// DefaultProfiles returns the built-in audience profiles.
func DefaultProfiles() ([]Profile, error) {
	var f profileFile
	if err := readRules("profiles.yaml", &f); err != nil {
		return nil, err
	}
	return normalizeProfiles(f.Profiles)
}

// LoadProfiles reads audience profiles from a YAML file with the same shape
// as the built-in set.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	return normalizeProfiles(f.Profiles)
}

func normalizeProfiles(profiles []Profile) ([]Profile, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined")
	}
	seen := make(map[string]bool, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.VerbosityMultiplier <= 0 {
			p.VerbosityMultiplier = 2.0
		}
		if p.Audience == "" {
			p.Audience = p.Name
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile %s", p.Name)
		}
		seen[p.Name] = true
	}
	return profiles, nil
}

// SelectProfiles returns the named profiles in the requested order; an
// empty list selects all of them.
func SelectProfiles(all []Profile, names []string) ([]Profile, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Profile, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	out := make([]Profile, 0, len(names))
	for _, n := range names {
		p, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

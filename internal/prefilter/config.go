package prefilter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// ExtraPattern is one operator-supplied rule in the patterns file.
type ExtraPattern struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Severity string `yaml:"severity"`
	Weight   int    `yaml:"weight"`
	Category string `yaml:"category"`
}

// PatternsFile is the on-disk shape of ~/.trustgate/patterns.yaml.
type PatternsFile struct {
	Patterns []ExtraPattern `yaml:"patterns"`
}

// Load creates a Filter from the built-in tables plus patterns from a
// YAML file. Empty path falls back to ~/.trustgate/patterns.yaml.
// Missing file returns the built-in tables. Invalid YAML or an invalid
// regex returns an error — a silently dropped operator rule would be a
// coverage gap.
func Load(path string) (*Filter, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return New(), nil
		}
		path = filepath.Join(home, ".trustgate", "patterns.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("prefilter: read patterns file: %w", err)
	}

	var pf PatternsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("prefilter: parse patterns file: %w", err)
	}

	extra := make([]Rule, 0, len(pf.Patterns))
	for _, p := range pf.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("prefilter: pattern %q: %w", p.Name, err)
		}
		weight := p.Weight
		if weight == 0 {
			weight = 20
		}
		extra = append(extra, Rule{
			Name:     p.Name,
			Pattern:  re,
			Severity: model.ParseSeverity(p.Severity),
			Weight:   weight,
			Category: model.ParseCategory(p.Category),
		})
	}

	return New(extra...), nil
}

// DefaultPatternsYAML returns a commented starter patterns file.
func DefaultPatternsYAML() string {
	return `# trustgate custom pre-filter patterns
#
# Rules here are added on top of the built-in tables. Each pattern is
# a Go regular expression (prefix with (?i) for case-insensitive).
# Weight contributes to the escalation score (default 20).
#
# patterns:
#   - name: internal_hostname
#     pattern: '(?i)corp\.example\.internal'
#     severity: medium
#     weight: 25
#     category: data_exfiltration
patterns: []
`
}

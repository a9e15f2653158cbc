package transitioner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one declaration-ordered promotion rule: mirror <source>/version
// onto <target>/version once its preconditions and schedule allow it.
// Rules are read from a YAML list rather than a map so declaration order
// (which §4.6's priority rule depends on) survives decoding.
type Rule struct {
	Name          string   `yaml:"name"`
	Source        string   `yaml:"source"`
	Target        string   `yaml:"target"`
	Preconditions []string `yaml:"preconditions"`
	Schedule      string   `yaml:"schedule,omitempty"`
}

// LoadRules reads a declaration-ordered list of transition rules from a
// YAML document at path.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transitions config %s: %w", path, err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing transitions config %s: %w", path, err)
	}
	return rules, nil
}

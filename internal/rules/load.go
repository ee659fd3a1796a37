package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the parsed filters section of the rules file.
type Config struct {
	Enabled       bool
	DefaultAction Action
	Rules         []Rule
	PostFilter    PostFilterConfig
}

// PostFilterConfig is the screening applied after enrichment. All
// lists are optional; an empty list places no constraint.
type PostFilterConfig struct {
	TopicInclude     []string `yaml:"topic_include"`
	TopicExclude     []string `yaml:"topic_exclude"`
	SentimentInclude []string `yaml:"sentiment_include"`
	SentimentExclude []string `yaml:"sentiment_exclude"`
}

type ruleFile struct {
	Filters struct {
		Enabled       bool       `yaml:"enabled"`
		DefaultAction string     `yaml:"default_action"`
		Rules         []yamlRule `yaml:"rules"`
	} `yaml:"filters"`
	PostFilter PostFilterConfig `yaml:"post_filter"`
}

type yamlRule struct {
	Name    string   `yaml:"name"`
	Action  string   `yaml:"action"`
	AllOf   []string `yaml:"all_of"`
	AnyOf   []string `yaml:"any_of"`
	NoneOf  []string `yaml:"none_of"`
	Enabled *bool    `yaml:"enabled"`
}

// Load reads and validates the YAML rules file. The file layout keeps
// the flat all_of/any_of lists of earlier deployments: all_of terms
// become one single-term group each (every term required) and any_of
// becomes one additional group (at least one term required).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a rules document from YAML bytes.
func Parse(raw []byte) (*Config, error) {
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	defAction, err := parseAction(f.Filters.DefaultAction)
	if err != nil {
		return nil, fmt.Errorf("default_action: %w", err)
	}

	cfg := &Config{
		Enabled:       f.Filters.Enabled,
		DefaultAction: defAction,
		Rules:         make([]Rule, 0, len(f.Filters.Rules)),
		PostFilter:    f.PostFilter,
	}

	for i, yr := range f.Filters.Rules {
		action, err := parseAction(yr.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, yr.Name, err)
		}
		name := yr.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		r := Rule{
			Name:    name,
			Action:  action,
			NoneOf:  yr.NoneOf,
			Enabled: yr.Enabled == nil || *yr.Enabled,
		}
		for _, term := range yr.AllOf {
			r.AllOf = append(r.AllOf, []string{term})
		}
		if len(yr.AnyOf) > 0 {
			r.AllOf = append(r.AllOf, yr.AnyOf)
		}
		cfg.Rules = append(cfg.Rules, r)
	}

	return cfg, nil
}

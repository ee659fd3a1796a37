package fetch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type sourceFile struct {
	Sources []yamlSource `yaml:"sources"`
}

type yamlSource struct {
	Name      string    `yaml:"name"`
	Kind      string    `yaml:"kind"`
	URL       string    `yaml:"url"`
	Selectors Selectors `yaml:"selectors"`
	Enabled   *bool     `yaml:"enabled"`
}

// Load reads the YAML sources file and builds the configured sources
// in declaration order. Disabled entries are skipped.
func Load(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a sources document from YAML bytes.
func Parse(raw []byte) ([]Source, error) {
	var f sourceFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sources yaml: %w", err)
	}

	sources := make([]Source, 0, len(f.Sources))
	for i, ys := range f.Sources {
		if ys.Enabled != nil && !*ys.Enabled {
			continue
		}
		if ys.Name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if ys.URL == "" {
			return nil, fmt.Errorf("source %d (%s): url is required", i, ys.Name)
		}

		switch ys.Kind {
		case "rss", "":
			sources = append(sources, NewRSSSource(ys.Name, ys.URL))
		case "html":
			if ys.Selectors.Item == "" {
				return nil, fmt.Errorf("source %d (%s): html source needs selectors.item", i, ys.Name)
			}
			sources = append(sources, NewHTMLSource(ys.Name, ys.URL, ys.Selectors))
		default:
			return nil, fmt.Errorf("source %d (%s): unknown kind %q (want rss or html)", i, ys.Name, ys.Kind)
		}
	}
	return sources, nil
}

package catalog

import (
	_ "embed"
	"fmt"

	"badgehub/internal/models"
	"badgehub/internal/validation"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var bundledYAML []byte

type catalogFile struct {
	Version int           `yaml:"version"`
	Rules   []models.Rule `yaml:"rules"`
}

// Bundled parses and validates the catalog shipped with the binary.
func Bundled() ([]models.Rule, error) {
	return Parse(bundledYAML)
}

// Parse decodes a YAML catalog document and validates every rule.
func Parse(data []byte) ([]models.Rule, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("catalog has no rules")
	}
	if err := validation.ValidateRules(file.Rules); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return file.Rules, nil
}

package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config enables one builtin rule. Thresholds keys are rule specific.
type Config struct {
	Name        string                 `yaml:"name" json:"name"`
	Enabled     bool                   `yaml:"enabled" json:"enabled"`
	Severity    string                 `yaml:"severity" json:"severity"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Thresholds  map[string]interface{} `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
}

// Threshold reads a numeric threshold, accepting both int and float
// encodings, and returns def when the key is absent or not a number.
func (c Config) Threshold(key string, def float64) float64 {
	switch v := c.Thresholds[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// SeverityConfidence maps a rule severity to the confidence reported with
// its hits. CRITICAL clears the default block tier, HIGH and MEDIUM land in
// the rate-limit tier.
func SeverityConfidence(severity string) float64 {
	switch strings.ToUpper(severity) {
	case "CRITICAL":
		return 0.95
	case "HIGH":
		return 0.9
	case "MEDIUM":
		return 0.85
	default:
		return 0.8
	}
}

// LoadRulesFromJSON loads rules from a JSON configuration file
func LoadRulesFromJSON(filename string) ([]Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules struct {
		Rules []Config `json:"rules"`
	}
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	return rules.Rules, nil
}

// LoadRulesFromYAML loads rules from a YAML configuration file
func LoadRulesFromYAML(filename string) ([]Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules struct {
		Rules []Config `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules file: %w", err)
	}

	return rules.Rules, nil
}

// LoadRules picks the format from the file extension, trying YAML first
// when the extension says nothing.
func LoadRules(filename string) ([]Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("rules file path is empty")
	}

	switch {
	case strings.HasSuffix(filename, ".yaml"), strings.HasSuffix(filename, ".yml"):
		return LoadRulesFromYAML(filename)
	case strings.HasSuffix(filename, ".json"):
		return LoadRulesFromJSON(filename)
	}

	if rules, err := LoadRulesFromYAML(filename); err == nil {
		return rules, nil
	}
	return LoadRulesFromJSON(filename)
}

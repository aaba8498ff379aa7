package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/tailscale/hujson"
)

var ErrPatternFileInvalid = errors.New("pattern file is invalid")

// PatternFile is the JSONC document holding additional threat patterns.
type PatternFile struct {
	Patterns []PatternDefinition `json:"patterns"`
}

// PatternDefinition describes one threat pattern.
type PatternDefinition struct {
	Category string `json:"category"` // spam, scam or phishing
	Name     string `json:"name"`
	Pattern  string `json:"pattern"`
	HasURL   bool   `json:"hasUrl"`
}

// LoadPatterns loads the pattern file named by the moderation config.
// A relative name is resolved against configDir. An empty name yields no patterns.
func LoadPatterns(configDir, name string) ([]PatternDefinition, error) {
	if name == "" {
		return nil, nil
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	return ParsePatterns(data)
}

// ParsePatterns parses a JSONC pattern document.
func ParsePatterns(data []byte) ([]PatternDefinition, error) {
	standardJSON, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to standardize JSONC: %w", err)
	}

	var patternFile PatternFile
	if err := sonic.Unmarshal(standardJSON, &patternFile); err != nil {
		return nil, fmt.Errorf("failed to parse pattern JSON: %w", err)
	}

	for i, def := range patternFile.Patterns {
		if def.Name == "" || def.Pattern == "" {
			return nil, fmt.Errorf("%w: entry %d needs a name and a pattern", ErrPatternFileInvalid, i)
		}
	}

	return patternFile.Patterns, nil
}

// Package pattern scores message text against categorized threat rules.
package pattern

import (
	"math"
	"regexp"
)

// MatchConfidence is the confidence contributed by every rule match.
const MatchConfidence = 0.8

// Category groups threat rules by the kind of abuse they detect.
type Category string

const (
	CategorySpam     Category = "spam"
	CategoryScam     Category = "scam"
	CategoryPhishing Category = "phishing"
)

// Categories lists the categories in evaluation order.
var Categories = []Category{CategorySpam, CategoryScam, CategoryPhishing}

// Rule is a compiled threat pattern.
type Rule struct {
	Category Category
	Name     string
	Expr     *regexp.Regexp
	// HasURL marks rules whose match implies a link in the message.
	HasURL bool
}

// Threat is a single rule match.
type Threat struct {
	Type       Category `json:"type"`
	Rule       string   `json:"rule"`
	Confidence float64  `json:"confidence"`
	HasURL     bool     `json:"hasUrl"`
}

// Analysis is the result of matching one message.
type Analysis struct {
	Threats    []Threat `json:"threats"`
	Confidence float64  `json:"confidence"`
}

// HasCategory reports whether any threat of the given category fired.
func (a Analysis) HasCategory(category Category) bool {
	for _, threat := range a.Threats {
		if threat.Type == category {
			return true
		}
	}
	return false
}

// DistinctCategories returns the number of categories with at least one match.
func (a Analysis) DistinctCategories() int {
	seen := make(map[Category]struct{}, len(Categories))
	for _, threat := range a.Threats {
		seen[threat.Type] = struct{}{}
	}
	return len(seen)
}

// HasURLPhishing reports whether a URL-bearing phishing rule fired.
func (a Analysis) HasURLPhishing() bool {
	for _, threat := range a.Threats {
		if threat.Type == CategoryPhishing && threat.HasURL {
			return true
		}
	}
	return false
}

// Matcher evaluates text against a fixed rule table.
// It is immutable after construction and safe for concurrent use.
type Matcher struct {
	rules map[Category][]Rule
}

// NewMatcher creates a matcher from the given rules.
func NewMatcher(rules ...Rule) *Matcher {
	grouped := make(map[Category][]Rule, len(Categories))
	for _, rule := range rules {
		grouped[rule.Category] = append(grouped[rule.Category], rule)
	}

	return &Matcher{rules: grouped}
}

// NewDefaultMatcher creates a matcher with the built-in rule table.
func NewDefaultMatcher() *Matcher {
	return NewMatcher(DefaultRules()...)
}

// Analyze matches text against every rule. Each match is recorded separately,
// including repeated matches within a category.
func (m *Matcher) Analyze(text string) Analysis {
	var threats []Threat

	for _, category := range Categories {
		for _, rule := range m.rules[category] {
			if rule.Expr.MatchString(text) {
				threats = append(threats, Threat{
					Type:       category,
					Rule:       rule.Name,
					Confidence: MatchConfidence,
					HasURL:     rule.HasURL,
				})
			}
		}
	}

	return Analysis{
		Threats:    threats,
		Confidence: Confidence(len(threats)),
	}
}

// Confidence returns the overall confidence for the given number of matches.
func Confidence(matches int) float64 {
	if matches <= 0 {
		return 0
	}
	return math.Min(MatchConfidence+0.1*float64(matches), 1.0)
}

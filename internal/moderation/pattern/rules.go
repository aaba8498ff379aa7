package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

var ErrUnknownCategory = errors.New("unknown threat category")

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		// Spam
		rule(CategorySpam, "promo_offer", `(buy|sell|cheap|discount|promo)\s+(now|today|here)`, false),
		rule(CategorySpam, "join_channel", `join\s+(my|our)\s+(channel|group|server)`, false),
		rule(CategorySpam, "follow_subscribe", `(follow|subscribe)\s+(me|us|my|our)`, false),
		rule(CategorySpam, "excessive_punctuation", `[!?$]{6,}`, false),
		rule(CategorySpam, "free_money", `free\s+(money|cash|\$\d+|crypto|tokens?|nft)`, false),

		// Scam
		rule(CategoryScam, "giveaway", `(airdrop|giveaway).*(claim|connect|free)`, false),
		rule(CategoryScam, "investment_return", `(guaranteed|double|triple)\s+(profit|return|your)`, false),
		rule(CategoryScam, "send_to_receive", `send\s+\d*\s*(eth|btc|usdt|bnb|sol|crypto).*(receive|get\s+back)`, false),
		rule(CategoryScam, "seed_phrase", `(seed|recovery|secret)\s+(phrase|words|key)`, false),
		rule(CategoryScam, "dm_support", `(dm|message|contact)\s+(me|admin|support)\s+(for|to)\s+(help|support|claim)`, false),

		// Phishing
		rule(CategoryPhishing, "connect_wallet", `connect\s+(your\s+)?wallet`, false),
		rule(CategoryPhishing, "verify_account", `verify\s+(your\s+)?(account|wallet|identity)`, false),
		rule(CategoryPhishing, "suspicious_link", `(https?://|www\.)\S*(claim|airdrop|wallet|verify|bonus|reward)\S*`, true),
		rule(CategoryPhishing, "suspicious_tld", `(https?://)?[a-z0-9-]+\.(tk|ml|ga|cf|gq|xyz|top|click)\b`, true),
		rule(CategoryPhishing, "shortened_link", `(bit\.ly|tinyurl\.com|t\.co|goo\.gl)/\S+`, true),
	}
}

func rule(category Category, name, expr string, hasURL bool) Rule {
	return Rule{
		Category: category,
		Name:     name,
		Expr:     regexp.MustCompile(`(?i)` + expr),
		HasURL:   hasURL,
	}
}

// CompileRule builds a rule from user supplied configuration.
// Expressions are matched case-insensitively.
func CompileRule(category, name, expr string, hasURL bool) (Rule, error) {
	cat := Category(category)
	if !slices.Contains(Categories, cat) {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	compiled, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to compile rule %q: %w", name, err)
	}

	return Rule{Category: cat, Name: name, Expr: compiled, HasURL: hasURL}, nil
}

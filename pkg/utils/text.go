package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// urlPattern matches explicit links as well as bare domains like "x.tk/claim".
	urlPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"]+|\b[a-z0-9][a-z0-9-]*\.(?:com|net|org|io|xyz|tk|ml|ga|cf|gq|top|click|link|app|finance|me|co|site|online)\b(?:/[^\s<>"]*)?`)

	// walletPattern matches wallet addresses for the common chains.
	walletPattern = regexp.MustCompile(`\b(?:0x[a-fA-F0-9]{40}|(?:bc1|[13])[a-zA-HJ-NP-Z0-9]{25,62}|T[1-9A-HJ-NP-Za-km-z]{33})\b`)

	// cryptoTokenPattern matches long base58-like tokens that look like addresses or keys.
	cryptoTokenPattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

	mentionPattern = regexp.MustCompile(`(?:^|\s)@[A-Za-z0-9_]{3,}`)
)

// ContainsURL reports whether s contains a link or a bare domain.
func ContainsURL(s string) bool {
	return urlPattern.MatchString(s)
}

// ExtractURLs returns every link found in s.
func ExtractURLs(s string) []string {
	return urlPattern.FindAllString(s, -1)
}

// ContainsWalletAddress reports whether s contains a wallet address or an
// address-like crypto token.
func ContainsWalletAddress(s string) bool {
	return walletPattern.MatchString(s) || cryptoTokenPattern.MatchString(s)
}

// CountMentions returns the number of @mentions in s.
func CountMentions(s string) int {
	return len(mentionPattern.FindAllString(s, -1))
}

// Truncate shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	r := []rune(s)
	return string(r[:limit])
}

// Normalizer folds text for keyword comparisons: compatibility forms are
// composed, diacritics dropped and letters lowercased.
// This is not safe for concurrent use.
type Normalizer struct {
	transformer transform.Transformer
}

// NewNormalizer creates a new Normalizer instance.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		transformer: transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
			runes.Map(unicode.ToLower),
			norm.NFKC,
		),
	}
}

// Normalize returns the folded form of s with whitespace compressed.
// On transform failure the lowercased input is returned.
func (n *Normalizer) Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	result, _, err := transform.String(n.transformer, s)
	if err != nil {
		return strings.ToLower(s)
	}

	return result
}

// ContainsAny reports whether the normalized s contains any of the keywords.
// Keywords are expected to be lowercase already.
func (n *Normalizer) ContainsAny(s string, keywords []string) bool {
	normalized := n.Normalize(s)
	for _, keyword := range keywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}

	return false
}

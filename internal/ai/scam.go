package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go"
	"github.com/robalyx/sentinel/internal/ai/client"
	"github.com/robalyx/sentinel/pkg/utils"
	"go.uber.org/zap"
)

var ErrModelResponse = errors.New("model response error")

const (
	// DefaultRequestTimeout bounds a single remote classification.
	DefaultRequestTimeout = 20 * time.Second

	// FloorConfidence is the confidence applied when a high-risk pattern fires.
	FloorConfidence = 0.85

	// FastAcceptConfidence is returned for ordinary conversation.
	FastAcceptConfidence = 0.9

	minTextLength       = 10
	maxFastAcceptLength = 150
	maxReasoningLength  = 200
)

// ScamAnalysisSchema is the JSON schema requested for structured output.
var ScamAnalysisSchema = utils.GenerateSchema[ScamAnalysis]()

// ScamAnalysis is the classifier verdict for one message.
type ScamAnalysis struct {
	IsScam     bool     `json:"isScam"     jsonschema_description:"Whether the message is a scam, phishing attempt or spam"`
	Confidence float64  `json:"confidence" jsonschema_description:"Confidence in the verdict from 0 to 1"`
	ScamType   string   `json:"scamType"   jsonschema_description:"Short label of the scam kind or none"`
	Reasoning  []string `json:"reasoning"  jsonschema_description:"Short factual reasons for the verdict"`
}

// MessageContext carries optional surroundings of a message.
type MessageContext struct {
	ChatTitle      string
	Username       string
	RecentMessages []string
}

// format renders the context block of the request prompt.
func (m *MessageContext) format() string {
	if m == nil {
		return ""
	}

	var b strings.Builder

	if m.ChatTitle != "" {
		fmt.Fprintf(&b, "Chat: %s\n", m.ChatTitle)
	}

	if m.Username != "" {
		fmt.Fprintf(&b, "Author: %s\n", m.Username)
	}

	if len(m.RecentMessages) > 0 {
		b.WriteString("Recent messages from the author:\n")

		for _, msg := range m.RecentMessages {
			fmt.Fprintf(&b, "- %s\n", utils.Truncate(msg, maxReasoningLength))
		}
	}

	return b.String()
}

// fastFlag is a high-risk composite pattern that sets a confidence floor.
type fastFlag struct {
	scamType string
	expr     *regexp.Regexp
}

var (
	fastAcceptPatterns = []*regexp.Regexp{
		// Greeting
		regexp.MustCompile(`(?i)^(hi|hello|hey|hiya|gm|gn|yo|sup|good\s+(morning|afternoon|evening|night))\b`),
		// Question
		regexp.MustCompile(`(?i)^(what|how|when|where|who|why|which|is|are|can|could|does|do|did|will|would|should|has|have)\b.*\?\s*$`),
		// Gratitude
		regexp.MustCompile(`(?i)\b(thanks|thank\s+you|thx|ty|appreciate\s+it|cheers)\b`),
		// Agreement
		regexp.MustCompile(`(?i)^(yes|yeah|yep|ok|okay|sure|agreed|exactly|true|same|lol|haha|nice|cool|great|fair\s+enough)\b`),
		// Farewell
		regexp.MustCompile(`(?i)\b(bye|goodbye|see\s+you|see\s+ya|cya|take\s+care|catch\s+you\s+later)\b`),
		// Small talk
		regexp.MustCompile(`(?i)\b(how\s+are\s+you|what'?s\s+up|how'?s\s+it\s+going|have\s+a\s+(nice|good|great)\s+(day|weekend|evening))\b`),
	}

	fastFlags = []fastFlag{
		{"airdrop", regexp.MustCompile(`(?i)(airdrop|giveaway|free\s+tokens?).*(connect|claim|wallet)`)},
		{"wallet_urgency", regexp.MustCompile(`(?i)(wallet|account).*(compromised|suspended|locked|expir\w*|validate|synchroni[sz]e|sync|restore)|(validate|sync|restore|rectify)\s+(your\s+)?wallet`)},
		{"guaranteed_return", regexp.MustCompile(`(?i)(guaranteed|fixed|daily)\s+(profit|returns?|income|roi)|(double|triple|2x|10x)\s+your\s+(money|crypto|investment|btc|eth|funds)`)},
		{"admin_impersonation", regexp.MustCompile(`(?i)(i\s+am|i'm|this\s+is)\s+(an?\s+|the\s+|your\s+)?(admin|moderator|mod|support|team).*(send|dm|message|transfer)`)},
		{"click_url", regexp.MustCompile(`(?i)(click|tap|visit)\b.*(https?://|www\.)`)},
		{"suspicious_tld", regexp.MustCompile(`(?i)(https?://)?[a-z0-9-]+\.(tk|ml|ga|cf|gq|xyz|top|click)\b`)},
	}

	// scamKeywords are matched against normalized text as supporting indicators.
	scamKeywords = []string{
		"airdrop", "giveaway", "claim", "wallet", "seed phrase", "private key", "connect",
		"verify", "guaranteed", "profit", "double", "bonus", "reward", "free", "urgent",
		"send", "investment", "dm me", "recovery", "presale", "whitelist",
	}

	confidencePattern = regexp.MustCompile(`(?i)confidence[\s:=*"]+(0?\.\d+|1(?:\.0+)?|0)\b`)
	tenScalePattern   = regexp.MustCompile(`\b(10|\d)\s*/\s*10\b`)
	scamNegations     = []string{
		"not a scam", "not scam", "isn't a scam", "isnt a scam", "no scam",
		"not considered a scam", "non-scam", "not-scam", "not likely a scam",
	}
)

// ScamAnalyzer classifies single chat messages with an OpenAI-compatible model.
// AnalyzeMessage never fails: remote errors degrade to a neutral verdict.
type ScamAnalyzer struct {
	chat       client.ChatCompletions
	model      string
	timeout    time.Duration
	structured bool
	logger     *zap.Logger
}

// ScamAnalyzerOptions configures a ScamAnalyzer.
type ScamAnalyzerOptions struct {
	Model            string
	Timeout          time.Duration
	StructuredOutput bool
}

// NewScamAnalyzer creates a ScamAnalyzer.
func NewScamAnalyzer(chat client.ChatCompletions, opts ScamAnalyzerOptions, logger *zap.Logger) *ScamAnalyzer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &ScamAnalyzer{
		chat:       chat,
		model:      opts.Model,
		timeout:    timeout,
		structured: opts.StructuredOutput,
		logger:     logger.Named("ai_scam"),
	}
}

// AnalyzeMessage classifies text. msgCtx may be nil.
func (a *ScamAnalyzer) AnalyzeMessage(ctx context.Context, text string, msgCtx *MessageContext) *ScamAnalysis {
	hasURL := utils.ContainsURL(text)

	if utf8.RuneCountInString(strings.TrimSpace(text)) < minTextLength && !hasURL {
		return &ScamAnalysis{Reasoning: []string{}}
	}

	flag := matchFastFlag(text)

	if flag == nil && isOrdinaryConversation(text, hasURL) {
		return &ScamAnalysis{
			Confidence: FastAcceptConfidence,
			ScamType:   "none",
			Reasoning:  []string{"ordinary conversation"},
		}
	}

	result, err := a.classify(ctx, text, msgCtx)
	if err != nil {
		a.logger.Warn("Scam classification failed",
			zap.Error(err),
			zap.String("model", a.model))

		return &ScamAnalysis{Reasoning: []string{}}
	}

	calibrated := calibrate(result, flag, text, hasURL)

	a.logger.Debug("Scam classification finished",
		zap.Bool("isScam", calibrated.IsScam),
		zap.Float64("confidence", calibrated.Confidence),
		zap.Float64("rawConfidence", result.Confidence),
		zap.String("scamType", calibrated.ScamType))

	return calibrated
}

// classify performs the remote call and decodes its answer.
func (a *ScamAnalyzer) classify(ctx context.Context, text string, msgCtx *MessageContext) (*ScamAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ScamSystemPrompt),
			openai.UserMessage(fmt.Sprintf(ScamRequestPrompt, msgCtx.format(), text)),
		},
		Model:       a.model,
		Temperature: openai.Float(0.0),
	}

	if a.structured {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "scamAnalysis",
					Description: openai.String("Scam classification of a chat message"),
					Schema:      ScamAnalysisSchema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	resp, err := a.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}

	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: no response from model", ErrModelResponse)
	}

	return ParseScamResponse(resp.Choices[0].Message.Content), nil
}

// ParseScamResponse decodes a model answer. JSON answers are decoded directly;
// anything else goes through a best-effort free text reading.
func ParseScamResponse(content string) *ScamAnalysis {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var result ScamAnalysis
	if strings.HasPrefix(trimmed, "{") {
		if err := sonic.UnmarshalString(trimmed, &result); err == nil {
			result.Confidence = clamp(result.Confidence)
			if result.Reasoning == nil {
				result.Reasoning = []string{}
			}
			return &result
		}
	}

	return parseFreeText(content)
}

// parseFreeText reads a confidence and a verdict out of prose.
func parseFreeText(content string) *ScamAnalysis {
	confidence := 0.5

	if m := confidencePattern.FindStringSubmatch(content); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = v
		}
	} else if m := tenScalePattern.FindStringSubmatch(content); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			confidence = float64(v) / 10
		}
	}

	lower := strings.ToLower(content)
	for _, negation := range scamNegations {
		lower = strings.ReplaceAll(lower, negation, "")
	}

	isScam := strings.Contains(lower, "scam")

	scamType := "none"
	if isScam {
		scamType = "unknown"
	}

	return &ScamAnalysis{
		IsScam:     isScam,
		Confidence: clamp(confidence),
		ScamType:   scamType,
		Reasoning:  []string{utils.Truncate(strings.TrimSpace(content), maxReasoningLength)},
	}
}

// calibrate applies the high-risk floor and the false positive guards.
func calibrate(result *ScamAnalysis, flag *fastFlag, text string, hasURL bool) *ScamAnalysis {
	out := *result
	out.Reasoning = append([]string{}, result.Reasoning...)

	if flag != nil {
		if !out.IsScam || out.Confidence < FloorConfidence {
			out.IsScam = true
			out.Confidence = FloorConfidence
			out.ScamType = flag.scamType
			out.Reasoning = append(out.Reasoning, "matched high-risk pattern: "+flag.scamType)
		}
		return &out
	}

	if !out.IsScam {
		return &out
	}

	switch {
	case out.Confidence < 0.4:
		return &ScamAnalysis{
			Confidence: 0.7,
			ScamType:   "none",
			Reasoning:  append(out.Reasoning, "scam verdict below minimum confidence"),
		}
	case out.Confidence < 0.65 && !hasURL && !hasScamKeyword(text):
		return &ScamAnalysis{
			Confidence: 0.6,
			ScamType:   "none",
			Reasoning:  append(out.Reasoning, "scam verdict without supporting indicators"),
		}
	}

	return &out
}

// isOrdinaryConversation reports whether text looks like harmless chatter.
func isOrdinaryConversation(text string, hasURL bool) bool {
	if hasURL || utils.ContainsWalletAddress(text) || utf8.RuneCountInString(text) >= maxFastAcceptLength {
		return false
	}

	trimmed := strings.TrimSpace(text)
	for _, pattern := range fastAcceptPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}

	return false
}

// matchFastFlag returns the first high-risk pattern matching text.
func matchFastFlag(text string) *fastFlag {
	for i := range fastFlags {
		if fastFlags[i].expr.MatchString(text) {
			return &fastFlags[i]
		}
	}
	return nil
}

func hasScamKeyword(text string) bool {
	return utils.NewNormalizer().ContainsAny(text, scamKeywords)
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

// Package moderation ties pattern, behavior and AI detection to the
// moderation store behind a single entry point.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robalyx/sentinel/internal/ai"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/robalyx/sentinel/internal/moderation/behavior"
	"github.com/robalyx/sentinel/internal/moderation/fusion"
	"github.com/robalyx/sentinel/internal/moderation/pattern"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidInput is returned when a request is missing required identifiers.
var ErrInvalidInput = errors.New("invalid input")

var tracer = otel.Tracer("github.com/robalyx/sentinel/internal/moderation")

// Classifier scores a message for scam content. It must not fail: remote
// errors are expected to degrade to a neutral verdict.
type Classifier interface {
	AnalyzeMessage(ctx context.Context, text string, msgCtx *ai.MessageContext) *ai.ScamAnalysis
}

// Store persists moderation decisions.
type Store interface {
	AddBan(ctx context.Context, userID, chatID string, opts types.BanOptions) (*types.BanView, error)
	CheckBan(ctx context.Context, userID, chatID string) (*types.BanView, error)
	RemoveBan(ctx context.Context, userID, chatID string, opts types.RemoveOptions) (bool, error)
	MarkAsScammer(ctx context.Context, userID string, opts types.ScammerOptions) (*types.Scammer, error)
	GetChatBans(ctx context.Context, chatID string) ([]*types.Ban, error)
	GetPropagatedBans(ctx context.Context) ([]*types.Ban, error)
	Suspend(ctx context.Context, userID, chatID string, opts types.SuspendOptions) (*types.Suspension, error)
	CheckSuspension(ctx context.Context, userID, chatID string) (*types.Suspension, error)
}

// Auditor accepts detection log entries without blocking.
type Auditor interface {
	Record(entry *types.DetectionLog) bool
	Close(ctx context.Context) error
}

// AIOptions tunes when and how the AI verdict is used.
type AIOptions struct {
	ConfidenceThreshold float64
	UseAIForAllMessages bool
}

// Settings is a snapshot of the AI detection settings.
type Settings struct {
	AIEnabled           bool    `json:"aiEnabled"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	UseAIForAllMessages bool    `json:"useAiForAllMessages"`
}

// Dependencies are the collaborators of a Moderator. Classifier and Audit
// are optional.
type Dependencies struct {
	Matcher    *pattern.Matcher
	Tracker    *behavior.Tracker
	Fusion     *fusion.Engine
	Classifier Classifier
	Store      Store
	Audit      Auditor
	Logger     *zap.Logger

	AIEnabled bool
	AI        AIOptions
}

// Message is an inbound chat message.
type Message struct {
	UserID    string
	ChatID    string
	MessageID string
	Text      string
	Timestamp time.Time
	// Context is passed to the classifier when present.
	Context *ai.MessageContext
}

// Result is the decision for one message. AI is nil when the classifier
// was not consulted.
type Result struct {
	Threats  pattern.Analysis  `json:"threatAnalysis"`
	Behavior behavior.Analysis `json:"behaviorAnalysis"`
	AI       *ai.ScamAnalysis  `json:"aiAnalysis,omitempty"`
	Action   fusion.Action     `json:"action"`
}

// Moderator is safe for concurrent use across chats.
type Moderator struct {
	matcher    *pattern.Matcher
	tracker    *behavior.Tracker
	fusion     *fusion.Engine
	classifier Classifier
	store      Store
	audit      Auditor
	logger     *zap.Logger

	mu       sync.RWMutex
	settings Settings
}

// New creates a Moderator from its dependencies.
func New(deps Dependencies) *Moderator {
	engine := deps.Fusion
	if engine == nil {
		engine = fusion.NewEngine()
	}

	matcher := deps.Matcher
	if matcher == nil {
		matcher = pattern.NewDefaultMatcher()
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Moderator{
		matcher:    matcher,
		tracker:    deps.Tracker,
		fusion:     engine,
		classifier: deps.Classifier,
		store:      deps.Store,
		audit:      deps.Audit,
		logger:     logger.Named("moderation"),
		settings:   Settings{ConfidenceThreshold: engine.Threshold()},
	}

	m.SetAIDetectionEnabled(deps.AIEnabled, deps.AI)

	return m
}

// ProcessMessage records the message for behavior tracking and returns the
// recommended action. Enforcement is left to the caller.
func (m *Moderator) ProcessMessage(ctx context.Context, msg Message) (*Result, error) {
	if err := validateIDs(msg.UserID, msg.ChatID); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "moderation.ProcessMessage", trace.WithAttributes(
		attribute.String("user.id", msg.UserID),
		attribute.String("chat.id", msg.ChatID),
	))
	defer span.End()

	result := &Result{}

	if m.tracker != nil {
		m.tracker.RecordMessage(ctx, msg.UserID, msg.Text)
		result.Behavior = m.tracker.Evaluate(ctx, msg.UserID)
	} else {
		result.Behavior = behavior.Analysis{Reasons: []string{}}
	}

	result.Threats = m.matcher.Analyze(msg.Text)
	initial := m.fusion.Initial(result.Threats, result.Behavior)

	settings := m.Settings()
	if settings.AIEnabled && m.classifier != nil &&
		m.fusion.ShouldUseAI(result.Threats.Confidence, result.Behavior, initial, settings.UseAIForAllMessages) {
		result.AI = m.classifier.AnalyzeMessage(ctx, msg.Text, msg.Context)
	}

	result.Action = m.fusion.Combine(initial, result.Threats.Confidence, result.AI)

	span.SetAttributes(
		attribute.String("action.recommended", result.Action.Recommended.String()),
		attribute.Float64("action.confidence", result.Action.Confidence),
		attribute.Bool("ai.used", result.AI != nil),
	)

	if result.AI != nil && m.audit != nil {
		m.audit.Record(&types.DetectionLog{
			UserID:            msg.UserID,
			ChatID:            msg.ChatID,
			MessageText:       msg.Text,
			PatternConfidence: result.Threats.Confidence,
			AIConfidence:      result.AI.Confidence,
			ActionTaken:       result.Action.Recommended.String(),
			CreatedAt:         messageTime(msg),
		})
	}

	if result.Action.Recommended != fusion.LevelNone {
		m.logger.Info("Moderation action recommended",
			zap.String("userID", msg.UserID),
			zap.String("chatID", msg.ChatID),
			zap.String("messageID", msg.MessageID),
			zap.Stringer("action", result.Action.Recommended),
			zap.Float64("confidence", result.Action.Confidence),
			zap.Strings("reasons", result.Action.Reasons))
	}

	return result, nil
}

// CheckBan returns the ban that applies to a user in a chat, or nil.
// The chat ID may be empty to check global bans only.
func (m *Moderator) CheckBan(ctx context.Context, userID, chatID string) (*types.BanView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}
	return m.store.CheckBan(ctx, userID, chatID)
}

// AddBan records a ban and returns the resulting ban view.
func (m *Moderator) AddBan(
	ctx context.Context, userID, chatID string, opts types.BanOptions,
) (*types.BanView, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return nil, err
	}
	return m.store.AddBan(ctx, userID, chatID, opts)
}

// RemoveBan lifts a chat ban. Returns false if there was none.
func (m *Moderator) RemoveBan(
	ctx context.Context, userID, chatID string, opts types.RemoveOptions,
) (bool, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return false, err
	}
	return m.store.RemoveBan(ctx, userID, chatID, opts)
}

// MarkAsScammer flags a user as a scammer across all chats.
func (m *Moderator) MarkAsScammer(
	ctx context.Context, userID string, opts types.ScammerOptions,
) (*types.Scammer, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}
	return m.store.MarkAsScammer(ctx, userID, opts)
}

// GetChatBans lists the active bans of a chat.
func (m *Moderator) GetChatBans(ctx context.Context, chatID string) ([]*types.Ban, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("%w: empty chat ID", ErrInvalidInput)
	}
	return m.store.GetChatBans(ctx, chatID)
}

// GetPropagatedBans lists the active bans that apply to every chat.
func (m *Moderator) GetPropagatedBans(ctx context.Context) ([]*types.Ban, error) {
	return m.store.GetPropagatedBans(ctx)
}

// Suspend mutes a user in a chat until opts.ExpiresAt.
func (m *Moderator) Suspend(
	ctx context.Context, userID, chatID string, opts types.SuspendOptions,
) (*types.Suspension, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return nil, err
	}
	return m.store.Suspend(ctx, userID, chatID, opts)
}

// CheckSuspension returns the active suspension of a user in a chat, or nil.
func (m *Moderator) CheckSuspension(ctx context.Context, userID, chatID string) (*types.Suspension, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return nil, err
	}
	return m.store.CheckSuspension(ctx, userID, chatID)
}

// SetAIDetectionEnabled toggles the AI stage. A threshold outside (0, 1]
// keeps the current one.
func (m *Moderator) SetAIDetectionEnabled(enabled bool, opts AIOptions) {
	m.fusion.SetThreshold(opts.ConfidenceThreshold)

	m.mu.Lock()
	m.settings = Settings{
		AIEnabled:           enabled,
		ConfidenceThreshold: m.fusion.Threshold(),
		UseAIForAllMessages: opts.UseAIForAllMessages,
	}
	m.mu.Unlock()

	m.logger.Info("AI detection settings updated",
		zap.Bool("enabled", enabled),
		zap.Float64("threshold", m.fusion.Threshold()),
		zap.Bool("useAIForAllMessages", opts.UseAIForAllMessages))
}

// Settings returns the current AI detection settings.
func (m *Moderator) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Close stops the behavior sweep and drains pending audit entries.
func (m *Moderator) Close(ctx context.Context) error {
	if m.tracker != nil {
		m.tracker.Stop()
	}

	if m.audit != nil {
		if err := m.audit.Close(ctx); err != nil {
			return fmt.Errorf("failed to drain audit log: %w", err)
		}
	}

	return nil
}

func messageTime(msg Message) time.Time {
	if msg.Timestamp.IsZero() {
		return time.Now()
	}
	return msg.Timestamp
}

func validateIDs(userID, chatID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}

	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("%w: empty chat ID", ErrInvalidInput)
	}

	return nil
}

// Package fusion turns pattern, behavior and AI signals into one action.
package fusion

import (
	"fmt"
	"sync"

	"github.com/robalyx/sentinel/internal/ai"
	"github.com/robalyx/sentinel/internal/moderation/behavior"
	"github.com/robalyx/sentinel/internal/moderation/pattern"
)

// DefaultThreshold is the AI confidence needed to escalate an action.
const DefaultThreshold = 0.65

// Level is the severity of a recommended action.
type Level int

const (
	LevelNone Level = iota
	LevelWarn
	LevelSuspend
	LevelBan
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelWarn:
		return "warn"
	case LevelSuspend:
		return "suspend"
	case LevelBan:
		return "ban"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Action is a recommended moderation action.
type Action struct {
	Recommended Level    `json:"recommended"`
	Confidence  float64  `json:"confidence"`
	Reasons     []string `json:"reasons"`
}

func (a Action) clone() Action {
	a.Reasons = append([]string{}, a.Reasons...)
	return a
}

// raise moves the action to at least level.
func (a *Action) raise(level Level) {
	a.Recommended = max(a.Recommended, level)
}

// Engine fuses detection signals in two stages. The first stage combines
// pattern and behavior analysis, the second folds in the AI verdict.
type Engine struct {
	mu        sync.RWMutex
	threshold float64
}

// NewEngine creates an Engine with the default AI threshold.
func NewEngine() *Engine {
	return &Engine{threshold: DefaultThreshold}
}

// SetThreshold sets the AI confidence needed to escalate. Values outside
// (0, 1] are ignored.
func (e *Engine) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}

	e.mu.Lock()
	e.threshold = threshold
	e.mu.Unlock()
}

// Threshold returns the current AI threshold.
func (e *Engine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// Initial computes the action from pattern and behavior analysis.
func (e *Engine) Initial(threats pattern.Analysis, activity behavior.Analysis) Action {
	confidence := threats.Confidence
	urlPhishing := threats.HasURLPhishing()
	multiCategory := threats.DistinctCategories() > 1

	action := Action{Reasons: []string{}}

	switch {
	case confidence > 0.7 || urlPhishing:
		action.Recommended = LevelBan
		action.Confidence = confidence
		if urlPhishing {
			action.Confidence = max(confidence, 0.9)
		}
		action.Reasons = append(action.Reasons, threatReasons(threats)...)

	case confidence > 0.5 || multiCategory:
		action.Recommended = LevelSuspend
		if confidence > 0.65 {
			action.Recommended = LevelBan
		}
		action.Confidence = confidence
		if multiCategory {
			action.Confidence = min(confidence*1.2, 1.0)
		}
		action.Reasons = append(action.Reasons, threatReasons(threats)...)

	case confidence > 0.4 && activity.Suspicious:
		action.Recommended = LevelSuspend
		action.Confidence = confidence * 0.8
		action.Reasons = append(action.Reasons, threatReasons(threats)...)

	case confidence > 0.25:
		action.Recommended = LevelWarn
		action.Confidence = confidence
		action.Reasons = append(action.Reasons, threatReasons(threats)...)

	case activity.Suspicious:
		action.Recommended = LevelWarn
		action.Confidence = 0.6
	}

	if action.Recommended == LevelNone && threats.HasCategory(pattern.CategoryPhishing) {
		action.Recommended = LevelWarn
		action.Confidence = 0.55
		action.Reasons = append(action.Reasons, threatReasons(threats)...)
	}

	if activity.Suspicious {
		action.Reasons = append(action.Reasons, activity.Reasons...)
	}

	return action
}

// ShouldUseAI reports whether the AI classifier is worth consulting.
func (e *Engine) ShouldUseAI(patternConfidence float64, activity behavior.Analysis, initial Action, alwaysUseAI bool) bool {
	return alwaysUseAI ||
		patternConfidence > 0.3 ||
		activity.Suspicious ||
		initial.Recommended != LevelNone
}

// Combine folds an AI verdict into the initial action. A nil verdict
// leaves the action unchanged.
func (e *Engine) Combine(initial Action, patternConfidence float64, verdict *ai.ScamAnalysis) Action {
	action := initial.clone()
	if verdict == nil {
		return action
	}

	threshold := e.Threshold()

	switch {
	case verdict.IsScam && verdict.Confidence >= threshold:
		action.Recommended = escalate(action.Recommended, verdict.Confidence >= 0.8)
		action.Confidence = max(action.Confidence, verdict.Confidence)
		action.Reasons = append(action.Reasons, fmt.Sprintf("AI detected scam (%.2f)", verdict.Confidence))

		for i, reason := range verdict.Reasoning {
			if i == 2 {
				break
			}
			action.Reasons = append(action.Reasons, "AI: "+reason)
		}

		if verdict.ScamType != "" && verdict.ScamType != "none" {
			action.Reasons = append(action.Reasons, "AI scam type: "+verdict.ScamType)
		}

	case verdict.IsScam && verdict.Confidence > 0.3:
		if patternConfidence > 0.3 {
			combined := min((verdict.Confidence+patternConfidence)*0.7, 1.0)

			switch {
			case combined > 0.8:
				action.raise(LevelBan)
			case combined > 0.7:
				action.raise(LevelSuspend)
			default:
				action.raise(LevelWarn)
			}

			action.Confidence = max(action.Confidence, combined)
			action.Reasons = append(action.Reasons,
				fmt.Sprintf("AI and patterns agree on possible scam (%.2f)", combined))
		} else {
			action.raise(LevelWarn)
			action.Confidence = max(action.Confidence, verdict.Confidence)
			action.Reasons = append(action.Reasons,
				fmt.Sprintf("AI suspects scam (%.2f)", verdict.Confidence))
		}

	case !verdict.IsScam && verdict.Confidence > 0.85:
		downgraded := action.Recommended

		switch action.Recommended {
		case LevelBan:
			if patternConfidence < 0.75 {
				downgraded = LevelSuspend
			}
		case LevelSuspend:
			if patternConfidence < 0.6 {
				downgraded = LevelWarn
			}
		case LevelWarn:
			if patternConfidence < 0.5 {
				downgraded = LevelNone
			}
		case LevelNone:
		}

		switch {
		case downgraded == LevelNone && action.Recommended != LevelNone:
			action.Recommended = LevelNone
			action.Reasons = []string{
				fmt.Sprintf("downgraded: AI is confident this is not a scam (%.2f)", verdict.Confidence),
			}
		case downgraded != action.Recommended:
			action.Recommended = downgraded
			action.Reasons = append(action.Reasons,
				fmt.Sprintf("downgraded to %s: AI is confident this is not a scam (%.2f)", downgraded, verdict.Confidence))
		}
	}

	if action.Confidence > 0.9 {
		action.Recommended = LevelBan
	}

	return action
}

// escalate moves a level up one notch, or two when strong is set.
func escalate(level Level, strong bool) Level {
	switch level {
	case LevelNone:
		if strong {
			return LevelSuspend
		}
		return LevelWarn
	case LevelWarn:
		if strong {
			return LevelBan
		}
		return LevelSuspend
	default:
		return LevelBan
	}
}

func threatReasons(threats pattern.Analysis) []string {
	reasons := make([]string, 0, len(threats.Threats))
	for _, threat := range threats.Threats {
		reasons = append(reasons, fmt.Sprintf("%s pattern: %s", threat.Type, threat.Rule))
	}
	return reasons
}

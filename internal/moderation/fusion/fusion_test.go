package fusion_test

import (
	"testing"

	"github.com/robalyx/sentinel/internal/ai"
	"github.com/robalyx/sentinel/internal/moderation/behavior"
	"github.com/robalyx/sentinel/internal/moderation/fusion"
	"github.com/robalyx/sentinel/internal/moderation/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threat(category pattern.Category, rule string, hasURL bool) pattern.Threat {
	return pattern.Threat{Type: category, Rule: rule, Confidence: pattern.MatchConfidence, HasURL: hasURL}
}

func TestInitial(t *testing.T) {
	t.Parallel()

	suspicious := behavior.Analysis{Suspicious: true, Reasons: []string{"rapidMessages: 11 messages in 60s"}}

	tests := []struct {
		name      string
		threats   pattern.Analysis
		activity  behavior.Analysis
		wantLevel fusion.Level
		wantConf  float64
	}{
		{
			name:      "nothing",
			wantLevel: fusion.LevelNone,
		},
		{
			name: "single match",
			threats: pattern.Analysis{
				Threats:    []pattern.Threat{threat(pattern.CategorySpam, "promo_offer", false)},
				Confidence: 0.9,
			},
			wantLevel: fusion.LevelBan,
			wantConf:  0.9,
		},
		{
			name: "url phishing with low confidence",
			threats: pattern.Analysis{
				Threats:    []pattern.Threat{threat(pattern.CategoryPhishing, "suspicious_tld", true)},
				Confidence: 0.3,
			},
			wantLevel: fusion.LevelBan,
			wantConf:  0.9,
		},
		{
			name: "multi category suspend",
			threats: pattern.Analysis{
				Threats: []pattern.Threat{
					threat(pattern.CategorySpam, "promo_offer", false),
					threat(pattern.CategoryScam, "giveaway", false),
				},
				Confidence: 0.6,
			},
			wantLevel: fusion.LevelSuspend,
			wantConf:  0.72,
		},
		{
			name: "multi category ban",
			threats: pattern.Analysis{
				Threats: []pattern.Threat{
					threat(pattern.CategorySpam, "promo_offer", false),
					threat(pattern.CategoryScam, "giveaway", false),
				},
				Confidence: 0.7,
			},
			wantLevel: fusion.LevelBan,
			wantConf:  0.84,
		},
		{
			name:      "moderate pattern with suspicious behavior",
			threats:   pattern.Analysis{Threats: []pattern.Threat{threat(pattern.CategorySpam, "x", false)}, Confidence: 0.45},
			activity:  suspicious,
			wantLevel: fusion.LevelSuspend,
			wantConf:  0.36,
		},
		{
			name:      "weak pattern",
			threats:   pattern.Analysis{Threats: []pattern.Threat{threat(pattern.CategorySpam, "x", false)}, Confidence: 0.3},
			wantLevel: fusion.LevelWarn,
			wantConf:  0.3,
		},
		{
			name:      "behavior only",
			activity:  suspicious,
			wantLevel: fusion.LevelWarn,
			wantConf:  0.6,
		},
		{
			name:      "phishing without confidence",
			threats:   pattern.Analysis{Threats: []pattern.Threat{threat(pattern.CategoryPhishing, "verify_account", false)}},
			wantLevel: fusion.LevelWarn,
			wantConf:  0.55,
		},
	}

	engine := fusion.NewEngine()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action := engine.Initial(tt.threats, tt.activity)
			assert.Equal(t, tt.wantLevel, action.Recommended)
			assert.InDelta(t, tt.wantConf, action.Confidence, 1e-9)
		})
	}
}

func TestInitialCarriesReasons(t *testing.T) {
	t.Parallel()

	matcher := pattern.NewDefaultMatcher()
	threats := matcher.Analyze("FREE crypto airdrop! Connect your wallet at claim.xyz to claim tokens")
	activity := behavior.Analysis{Suspicious: true, Reasons: []string{"linkSpam: 5 links in 300s"}}

	action := fusion.NewEngine().Initial(threats, activity)
	assert.Equal(t, fusion.LevelBan, action.Recommended)
	assert.GreaterOrEqual(t, action.Confidence, 0.9)
	assert.Contains(t, action.Reasons, "phishing pattern: suspicious_tld")
	assert.Contains(t, action.Reasons, "linkSpam: 5 links in 300s")
}

func TestCombineEscalation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		initial   fusion.Level
		initConf  float64
		aiConf    float64
		wantLevel fusion.Level
		wantConf  float64
	}{
		{name: "none to warn", initial: fusion.LevelNone, aiConf: 0.7, wantLevel: fusion.LevelWarn, wantConf: 0.7},
		{name: "none to suspend", initial: fusion.LevelNone, aiConf: 0.85, wantLevel: fusion.LevelSuspend, wantConf: 0.85},
		{name: "warn to suspend", initial: fusion.LevelWarn, initConf: 0.3, aiConf: 0.7, wantLevel: fusion.LevelSuspend, wantConf: 0.7},
		{name: "warn to ban", initial: fusion.LevelWarn, initConf: 0.3, aiConf: 0.85, wantLevel: fusion.LevelBan, wantConf: 0.85},
		{name: "suspend to ban", initial: fusion.LevelSuspend, initConf: 0.5, aiConf: 0.7, wantLevel: fusion.LevelBan, wantConf: 0.7},
		{name: "keeps higher confidence", initial: fusion.LevelBan, initConf: 0.9, aiConf: 0.7, wantLevel: fusion.LevelBan, wantConf: 0.9},
		{name: "safety net", initial: fusion.LevelNone, aiConf: 0.95, wantLevel: fusion.LevelBan, wantConf: 0.95},
	}

	engine := fusion.NewEngine()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			initial := fusion.Action{Recommended: tt.initial, Confidence: tt.initConf}
			action := engine.Combine(initial, tt.initConf, &ai.ScamAnalysis{
				IsScam:     true,
				Confidence: tt.aiConf,
				ScamType:   "airdrop",
				Reasoning:  []string{"first", "second", "third"},
			})

			assert.Equal(t, tt.wantLevel, action.Recommended)
			assert.InDelta(t, tt.wantConf, action.Confidence, 1e-9)
			assert.Contains(t, action.Reasons, "AI: first")
			assert.Contains(t, action.Reasons, "AI: second")
			assert.NotContains(t, action.Reasons, "AI: third")
			assert.Contains(t, action.Reasons, "AI scam type: airdrop")
		})
	}
}

func TestCombineModerateAI(t *testing.T) {
	t.Parallel()

	engine := fusion.NewEngine()

	tests := []struct {
		name      string
		initial   fusion.Action
		pattern   float64
		aiConf    float64
		wantLevel fusion.Level
		wantConf  float64
	}{
		{
			name:      "combined suspend",
			initial:   fusion.Action{Recommended: fusion.LevelWarn, Confidence: 0.6},
			pattern:   0.6,
			aiConf:    0.5,
			wantLevel: fusion.LevelSuspend,
			wantConf:  0.77,
		},
		{
			name:      "combined ban",
			initial:   fusion.Action{Recommended: fusion.LevelWarn, Confidence: 0.6},
			pattern:   0.6,
			aiConf:    0.6,
			wantLevel: fusion.LevelBan,
			wantConf:  0.84,
		},
		{
			name:      "combined warn",
			initial:   fusion.Action{Recommended: fusion.LevelNone},
			pattern:   0.35,
			aiConf:    0.4,
			wantLevel: fusion.LevelWarn,
			wantConf:  0.525,
		},
		{
			name:      "ai alone",
			initial:   fusion.Action{Recommended: fusion.LevelNone},
			pattern:   0,
			aiConf:    0.5,
			wantLevel: fusion.LevelWarn,
			wantConf:  0.5,
		},
		{
			name:      "never lowers an existing level",
			initial:   fusion.Action{Recommended: fusion.LevelBan, Confidence: 0.8},
			pattern:   0.4,
			aiConf:    0.4,
			wantLevel: fusion.LevelBan,
			wantConf:  0.8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action := engine.Combine(tt.initial, tt.pattern, &ai.ScamAnalysis{IsScam: true, Confidence: tt.aiConf})
			assert.Equal(t, tt.wantLevel, action.Recommended)
			assert.InDelta(t, tt.wantConf, action.Confidence, 1e-9)
		})
	}
}

func TestCombineDowngrade(t *testing.T) {
	t.Parallel()

	engine := fusion.NewEngine()
	notScam := &ai.ScamAnalysis{IsScam: false, Confidence: 0.9}

	tests := []struct {
		name      string
		initial   fusion.Action
		pattern   float64
		wantLevel fusion.Level
	}{
		{
			name:      "ban to suspend",
			initial:   fusion.Action{Recommended: fusion.LevelBan, Confidence: 0.72, Reasons: []string{"p"}},
			pattern:   0.72,
			wantLevel: fusion.LevelSuspend,
		},
		{
			name:      "strong pattern keeps ban",
			initial:   fusion.Action{Recommended: fusion.LevelBan, Confidence: 0.9, Reasons: []string{"p"}},
			pattern:   0.9,
			wantLevel: fusion.LevelBan,
		},
		{
			name:      "suspend to warn",
			initial:   fusion.Action{Recommended: fusion.LevelSuspend, Confidence: 0.55, Reasons: []string{"p"}},
			pattern:   0.55,
			wantLevel: fusion.LevelWarn,
		},
		{
			name:      "suspend kept",
			initial:   fusion.Action{Recommended: fusion.LevelSuspend, Confidence: 0.65, Reasons: []string{"p"}},
			pattern:   0.65,
			wantLevel: fusion.LevelSuspend,
		},
		{
			name:      "warn to none",
			initial:   fusion.Action{Recommended: fusion.LevelWarn, Confidence: 0.6, Reasons: []string{"p"}},
			pattern:   0,
			wantLevel: fusion.LevelNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action := engine.Combine(tt.initial, tt.pattern, notScam)
			assert.Equal(t, tt.wantLevel, action.Recommended)

			if tt.wantLevel == fusion.LevelNone {
				require.Len(t, action.Reasons, 1)
				assert.Contains(t, action.Reasons[0], "downgraded")
			}
		})
	}

	// Moderately confident not-scam verdicts change nothing.
	initial := fusion.Action{Recommended: fusion.LevelWarn, Confidence: 0.6, Reasons: []string{"p"}}
	action := engine.Combine(initial, 0, &ai.ScamAnalysis{IsScam: false, Confidence: 0.7})
	assert.Equal(t, initial, action)
}

func TestCombineDoesNotMutateInitial(t *testing.T) {
	t.Parallel()

	initial := fusion.Action{Recommended: fusion.LevelWarn, Confidence: 0.3, Reasons: []string{"p"}}
	fusion.NewEngine().Combine(initial, 0.3, &ai.ScamAnalysis{IsScam: true, Confidence: 0.9, Reasoning: []string{"r"}})

	assert.Equal(t, []string{"p"}, initial.Reasons)
	assert.Equal(t, fusion.LevelWarn, initial.Recommended)
}

func TestCombineNilVerdict(t *testing.T) {
	t.Parallel()

	initial := fusion.Action{Recommended: fusion.LevelWarn, Confidence: 0.3, Reasons: []string{"p"}}
	assert.Equal(t, initial, fusion.NewEngine().Combine(initial, 0.3, nil))
}

func TestSetThreshold(t *testing.T) {
	t.Parallel()

	engine := fusion.NewEngine()
	assert.InDelta(t, fusion.DefaultThreshold, engine.Threshold(), 1e-9)

	engine.SetThreshold(0.9)
	assert.InDelta(t, 0.9, engine.Threshold(), 1e-9)

	engine.SetThreshold(1.5)
	engine.SetThreshold(0)
	assert.InDelta(t, 0.9, engine.Threshold(), 1e-9)

	// 0.85 is now below the threshold and only ensures a warning.
	action := engine.Combine(fusion.Action{}, 0, &ai.ScamAnalysis{IsScam: true, Confidence: 0.85})
	assert.Equal(t, fusion.LevelWarn, action.Recommended)
}

func TestShouldUseAI(t *testing.T) {
	t.Parallel()

	engine := fusion.NewEngine()
	quiet := behavior.Analysis{}

	assert.False(t, engine.ShouldUseAI(0, quiet, fusion.Action{}, false))
	assert.False(t, engine.ShouldUseAI(0.3, quiet, fusion.Action{}, false))
	assert.True(t, engine.ShouldUseAI(0.31, quiet, fusion.Action{}, false))
	assert.True(t, engine.ShouldUseAI(0, behavior.Analysis{Suspicious: true}, fusion.Action{}, false))
	assert.True(t, engine.ShouldUseAI(0, quiet, fusion.Action{Recommended: fusion.LevelWarn}, false))
	assert.True(t, engine.ShouldUseAI(0, quiet, fusion.Action{}, true))
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", fusion.LevelNone.String())
	assert.Equal(t, "ban", fusion.LevelBan.String())

	text, err := fusion.LevelSuspend.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "suspend", string(text))
}

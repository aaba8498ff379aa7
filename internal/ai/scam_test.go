package ai_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go"
	"github.com/robalyx/sentinel/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeChat answers every request with a fixed completion.
type fakeChat struct {
	content string
	err     error
	delay   time.Duration
	calls   atomic.Int32
	last    atomic.Pointer[openai.ChatCompletionNewParams]
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	f.calls.Add(1)
	f.last.Store(&params)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      openai.ChatCompletionMessage{Content: f.content},
		}},
	}, nil
}

func verdict(t *testing.T, isScam bool, confidence float64) string {
	t.Helper()

	out, err := sonic.MarshalString(ai.ScamAnalysis{
		IsScam:     isScam,
		Confidence: confidence,
		ScamType:   "test",
		Reasoning:  []string{"model reason"},
	})
	require.NoError(t, err)

	return out
}

func newAnalyzer(chat *fakeChat) *ai.ScamAnalyzer {
	return ai.NewScamAnalyzer(chat, ai.ScamAnalyzerOptions{
		Model:            "scam",
		Timeout:          time.Second,
		StructuredOutput: true,
	}, zap.NewNop())
}

func TestAnalyzeMessageShortText(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: verdict(t, true, 0.99)}
	result := newAnalyzer(chat).AnalyzeMessage(t.Context(), "gm all", nil)

	assert.False(t, result.IsScam)
	assert.Zero(t, result.Confidence)
	assert.Zero(t, chat.calls.Load())
}

func TestAnalyzeMessageFastAccept(t *testing.T) {
	t.Parallel()

	tests := []string{
		"Hello everyone, how are you today?",
		"What time does the AMA start tomorrow?",
		"Thanks for the update on the roadmap",
		"See you all at the community call",
	}

	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			t.Parallel()

			chat := &fakeChat{content: verdict(t, true, 0.99)}
			result := newAnalyzer(chat).AnalyzeMessage(t.Context(), text, nil)

			assert.False(t, result.IsScam)
			assert.InDelta(t, ai.FastAcceptConfidence, result.Confidence, 1e-9)
			assert.Zero(t, chat.calls.Load())
		})
	}
}

func TestAnalyzeMessageFastAcceptNeedsCleanText(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: verdict(t, false, 0.2)}
	analyzer := newAnalyzer(chat)

	// Greeting shape but a link is present.
	analyzer.AnalyzeMessage(t.Context(), "Hello friends, look at https://example.com/news", nil)
	// Greeting shape but a wallet address is present.
	analyzer.AnalyzeMessage(t.Context(), "Hey, my address is 0x52908400098527886E0F7030069857D2E4169EE7", nil)

	assert.Equal(t, int32(2), chat.calls.Load())
}

func TestAnalyzeMessageStructured(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: verdict(t, true, 0.92)}
	result := newAnalyzer(chat).AnalyzeMessage(t.Context(),
		"Send 1 ETH to this address and receive 2 ETH back instantly", nil)

	assert.True(t, result.IsScam)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, []string{"model reason"}, result.Reasoning)
	require.Equal(t, int32(1), chat.calls.Load())

	params := chat.last.Load()
	require.NotNil(t, params.ResponseFormat.OfJSONSchema)
	assert.Equal(t, "scamAnalysis", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
}

func TestAnalyzeMessageFloorOverride(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: verdict(t, false, 0.8)}
	result := newAnalyzer(chat).AnalyzeMessage(t.Context(),
		"Huge airdrop live now, connect your wallet to claim", nil)

	assert.True(t, result.IsScam)
	assert.InDelta(t, ai.FloorConfidence, result.Confidence, 1e-9)
	assert.Equal(t, "airdrop", result.ScamType)
	assert.Equal(t, int32(1), chat.calls.Load())
}

func TestAnalyzeMessageFloorKeepsStrongerVerdict(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{content: verdict(t, true, 0.97)}
	result := newAnalyzer(chat).AnalyzeMessage(t.Context(),
		"Huge airdrop live now, connect your wallet to claim", nil)

	assert.True(t, result.IsScam)
	assert.InDelta(t, 0.97, result.Confidence, 1e-9)
	assert.Equal(t, "test", result.ScamType)
}

func TestAnalyzeMessageCalibration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		isScam     bool
		confidence float64
		wantScam   bool
		wantConf   float64
	}{
		{
			name:       "low confidence scam is overridden",
			text:       "This new token launch looks really interesting to me",
			isScam:     true,
			confidence: 0.3,
			wantScam:   false,
			wantConf:   0.7,
		},
		{
			name:       "medium confidence without indicators",
			text:       "This new token launch looks really interesting to me",
			isScam:     true,
			confidence: 0.5,
			wantScam:   false,
			wantConf:   0.6,
		},
		{
			name:       "medium confidence with keyword support",
			text:       "Limited bonus for early members of the new token launch",
			isScam:     true,
			confidence: 0.5,
			wantScam:   true,
			wantConf:   0.5,
		},
		{
			name:       "high confidence is kept",
			text:       "This new token launch looks really interesting to me",
			isScam:     true,
			confidence: 0.7,
			wantScam:   true,
			wantConf:   0.7,
		},
		{
			name:       "not scam is kept",
			text:       "This new token launch looks really interesting to me",
			isScam:     false,
			confidence: 0.9,
			wantScam:   false,
			wantConf:   0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chat := &fakeChat{content: verdict(t, tt.isScam, tt.confidence)}
			result := newAnalyzer(chat).AnalyzeMessage(t.Context(), tt.text, nil)

			assert.Equal(t, tt.wantScam, result.IsScam)
			assert.InDelta(t, tt.wantConf, result.Confidence, 1e-9)
		})
	}
}

func TestAnalyzeMessageFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		chat *fakeChat
	}{
		{name: "remote error", chat: &fakeChat{err: errors.New("boom")}},
		{name: "empty answer", chat: &fakeChat{content: "  "}},
		{name: "timeout", chat: &fakeChat{content: `{"isScam":true,"confidence":1}`, delay: 5 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			analyzer := ai.NewScamAnalyzer(tt.chat, ai.ScamAnalyzerOptions{
				Model:   "scam",
				Timeout: 50 * time.Millisecond,
			}, zap.NewNop())

			// The fast-flag floor is not applied when the remote call fails.
			result := analyzer.AnalyzeMessage(t.Context(),
				"Huge airdrop live now, connect your wallet to claim", nil)

			assert.False(t, result.IsScam)
			assert.Zero(t, result.Confidence)
			assert.Empty(t, result.Reasoning)
		})
	}
}

func TestParseScamResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  string
		wantScam bool
		wantConf float64
	}{
		{
			name:     "json",
			content:  `{"isScam":true,"confidence":0.81,"scamType":"phishing","reasoning":["a"]}`,
			wantScam: true,
			wantConf: 0.81,
		},
		{
			name:     "fenced json",
			content:  "```json\n{\"isScam\":false,\"confidence\":0.2,\"scamType\":\"none\",\"reasoning\":[]}\n```",
			wantScam: false,
			wantConf: 0.2,
		},
		{
			name:     "free text confidence",
			content:  "This looks like a scam. Confidence: 0.78",
			wantScam: true,
			wantConf: 0.78,
		},
		{
			name:     "free text ten scale",
			content:  "Likely a phishing scam, I'd rate it 9/10",
			wantScam: true,
			wantConf: 0.9,
		},
		{
			name:     "free text negation",
			content:  "This is not a scam, just a price question. confidence: 0.9",
			wantScam: false,
			wantConf: 0.9,
		},
		{
			name:     "free text without number",
			content:  "Definitely a scam",
			wantScam: true,
			wantConf: 0.5,
		},
		{
			name:     "clamped",
			content:  `{"isScam":true,"confidence":4,"scamType":"x","reasoning":[]}`,
			wantScam: true,
			wantConf: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := ai.ParseScamResponse(tt.content)
			assert.Equal(t, tt.wantScam, result.IsScam)
			assert.InDelta(t, tt.wantConf, result.Confidence, 1e-9)
		})
	}
}

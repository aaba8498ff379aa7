package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/robalyx/sentinel/internal/moderation/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu      sync.Mutex
	entries []*types.DetectionLog
	block   chan struct{}
	panicOn string
}

func (s *memorySink) LogAIAnalysis(_ context.Context, entry *types.DetectionLog) {
	if s.block != nil {
		<-s.block
	}

	if entry.UserID == s.panicOn {
		panic("sink exploded")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestRecorderWritesEntries(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	recorder := audit.NewRecorder(sink, 8, zap.NewNop())

	for range 5 {
		assert.True(t, recorder.Record(&types.DetectionLog{UserID: "u1", ChatID: "c1"}))
	}

	require.NoError(t, recorder.Close(t.Context()))
	assert.Equal(t, 5, sink.Len())
	assert.Equal(t, int64(5), recorder.Written())
	assert.Zero(t, recorder.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	t.Parallel()

	sink := &memorySink{block: make(chan struct{})}
	recorder := audit.NewRecorder(sink, 1, zap.NewNop())

	// The worker takes the first entry and blocks in the sink.
	require.True(t, recorder.Record(&types.DetectionLog{UserID: "u1"}))
	require.Eventually(t, func() bool {
		return recorder.Record(&types.DetectionLog{UserID: "u2"})
	}, time.Second, 5*time.Millisecond)

	assert.False(t, recorder.Record(&types.DetectionLog{UserID: "u3"}))
	assert.GreaterOrEqual(t, recorder.Dropped(), int64(1))

	close(sink.block)
	require.NoError(t, recorder.Close(t.Context()))
	assert.Equal(t, 2, sink.Len())
}

func TestRecorderSurvivesSinkPanic(t *testing.T) {
	t.Parallel()

	sink := &memorySink{panicOn: "bad"}
	recorder := audit.NewRecorder(sink, 4, zap.NewNop())

	recorder.Record(&types.DetectionLog{UserID: "bad"})
	recorder.Record(&types.DetectionLog{UserID: "good"})

	require.NoError(t, recorder.Close(t.Context()))
	assert.Equal(t, 1, sink.Len())
}

func TestRecorderRejectsAfterClose(t *testing.T) {
	t.Parallel()

	recorder := audit.NewRecorder(&memorySink{}, 4, zap.NewNop())
	require.NoError(t, recorder.Close(t.Context()))
	require.NoError(t, recorder.Close(t.Context()))

	assert.False(t, recorder.Record(&types.DetectionLog{UserID: "u1"}))
	assert.Equal(t, int64(1), recorder.Dropped())
}

func TestRecorderCloseHonorsDeadline(t *testing.T) {
	t.Parallel()

	sink := &memorySink{block: make(chan struct{})}
	recorder := audit.NewRecorder(sink, 4, zap.NewNop())
	recorder.Record(&types.DetectionLog{UserID: "u1"})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, recorder.Close(ctx), audit.ErrClosed)
	close(sink.block)
}

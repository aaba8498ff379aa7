package dbretry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robalyx/sentinel/internal/database/dbretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("syntax error"), want: false},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "refused", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, dbretry.IsRetryableError(tt.err))
		})
	}
}

func TestOperationSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := dbretry.Operation(t.Context(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestOperationStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("constraint violated")
	calls := 0

	err := dbretry.NoResult(t.Context(), func(context.Context) error {
		calls++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestOperationRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	start := time.Now()

	got, err := dbretry.Operation(t.Context(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("write: broken pipe")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	// 200ms then 400ms without jitter.
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestOperationGivesUpAfterThreeRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := dbretry.NoResult(t.Context(), func(context.Context) error {
		calls++
		return errors.New("i/o timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestClassifyPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")
	assert.Same(t, err, dbretry.Classify(err))
	assert.NotErrorIs(t, dbretry.Classify(err), dbretry.ErrForeignKeyViolation)
}

package behavior

import (
	"context"
	"sync"
	"time"

	"github.com/robalyx/sentinel/pkg/utils"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often expired events are evicted.
const DefaultSweepInterval = time.Hour

// Tracker maintains per-user sliding-window counters.
// Store failures are logged and never surface to callers.
type Tracker struct {
	store    Store
	clock    Clock
	limits   map[Signal]Limit
	logger   *zap.Logger
	stopChan chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the clock used to timestamp events.
func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// WithLimits overrides the per-signal limits.
func WithLimits(limits map[Signal]Limit) Option {
	return func(t *Tracker) {
		t.limits = limits
	}
}

// NewTracker creates a tracker backed by the given store.
func NewTracker(store Store, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		clock:    SystemClock{},
		limits:   DefaultLimits(),
		logger:   logger.Named("behavior"),
		stopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Record appends an event for the user and signal.
func (t *Tracker) Record(ctx context.Context, userID string, signal Signal) {
	limit, ok := t.limits[signal]
	if !ok {
		return
	}

	if err := t.store.Append(ctx, userID, signal, t.clock.Now(), limit.Window); err != nil {
		t.logger.Warn("Failed to record behavior event",
			zap.String("userID", userID),
			zap.String("signal", string(signal)),
			zap.Error(err))
	}
}

// RecordMessage records the signals carried by one inbound message.
func (t *Tracker) RecordMessage(ctx context.Context, userID string, content string) {
	t.Record(ctx, userID, SignalRapidMessages)

	if utils.ContainsURL(content) {
		t.Record(ctx, userID, SignalLinkSpam)
	}

	for range utils.CountMentions(content) {
		t.Record(ctx, userID, SignalMentionSpam)
	}
}

// Evaluate checks every signal against its threshold.
func (t *Tracker) Evaluate(ctx context.Context, userID string) Analysis {
	now := t.clock.Now()
	result := Analysis{Reasons: []string{}}

	for _, signal := range Signals {
		limit, ok := t.limits[signal]
		if !ok {
			continue
		}

		count, err := t.store.Count(ctx, userID, signal, now.Add(-limit.Window))
		if err != nil {
			t.logger.Warn("Failed to count behavior events",
				zap.String("userID", userID),
				zap.String("signal", string(signal)),
				zap.Error(err))
			continue
		}

		if count >= limit.Threshold {
			result.Suspicious = true
			result.Signals = append(result.Signals, signal)
			result.Reasons = append(result.Reasons, reason(signal, count, limit))
		}
	}

	return result
}

// Sweep evicts expired events and drops users with no remaining signals.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.clock.Now()

	cutoffs := make(map[Signal]time.Time, len(t.limits))
	for signal, limit := range t.limits {
		cutoffs[signal] = now.Add(-limit.Window)
	}

	removed, err := t.store.Evict(ctx, cutoffs)
	if err != nil {
		t.logger.Error("Failed to sweep behavior store", zap.Error(err))
		return removed
	}

	t.logger.Debug("Swept behavior store", zap.Int("removed", removed))

	return removed
}

// Start runs Sweep on every scheduler tick until Stop is called or the
// context is done.
func (t *Tracker) Start(ctx context.Context, scheduler Scheduler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		scheduler.Stop()
		return
	}

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer scheduler.Stop()

		for {
			select {
			case <-scheduler.C():
				t.Sweep(ctx)
			case <-ctx.Done():
				return
			case <-t.stopChan:
				return
			}
		}
	}()
}

// Stop ends the background sweep and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.stopped {
		close(t.stopChan)
		t.stopped = true
	}
	t.mu.Unlock()

	t.wg.Wait()
}

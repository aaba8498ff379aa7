// Package behavior tracks per-user rate signals over sliding windows.
package behavior

import (
	"context"
	"fmt"
	"time"
)

// Signal identifies a rate-based behavioral indicator.
type Signal string

const (
	SignalRapidMessages Signal = "rapidMessages"
	SignalLinkSpam      Signal = "linkSpam"
	SignalMentionSpam   Signal = "mentionSpam"
)

// Signals lists the tracked signals in evaluation order.
var Signals = []Signal{SignalRapidMessages, SignalLinkSpam, SignalMentionSpam}

// Limit is the sliding window and trigger threshold of a signal.
type Limit struct {
	Window    time.Duration
	Threshold int
	Unit      string
}

// DefaultLimits returns the built-in limits per signal.
func DefaultLimits() map[Signal]Limit {
	return map[Signal]Limit{
		SignalRapidMessages: {Window: 60 * time.Second, Threshold: 10, Unit: "messages"},
		SignalLinkSpam:      {Window: 300 * time.Second, Threshold: 5, Unit: "links"},
		SignalMentionSpam:   {Window: 300 * time.Second, Threshold: 8, Unit: "mentions"},
	}
}

// Analysis is the behavioral verdict for a user at evaluation time.
type Analysis struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons"`
	Signals    []Signal `json:"signals"`
}

// HasSignal reports whether the given signal triggered.
func (a Analysis) HasSignal(signal Signal) bool {
	for _, s := range a.Signals {
		if s == signal {
			return true
		}
	}
	return false
}

func reason(signal Signal, count int, limit Limit) string {
	return fmt.Sprintf("%s: %d %s in %ds", signal, count, limit.Unit, int(limit.Window.Seconds()))
}

// Store holds event timestamps per user and signal.
type Store interface {
	// Append records an event. The window bounds how long the event is relevant.
	Append(ctx context.Context, userID string, signal Signal, at time.Time, window time.Duration) error
	// Count returns the number of events at or after since.
	Count(ctx context.Context, userID string, signal Signal, since time.Time) (int, error)
	// Evict removes events older than the per-signal cutoffs and returns the
	// number of buckets that became empty and were dropped.
	Evict(ctx context.Context, cutoffs map[Signal]time.Time) (int, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Scheduler delivers ticks that trigger a sweep.
type Scheduler interface {
	C() <-chan time.Time
	Stop()
}

// TickerScheduler is a Scheduler backed by time.Ticker.
type TickerScheduler struct {
	ticker *time.Ticker
}

// NewTickerScheduler creates a scheduler that ticks every interval.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	return &TickerScheduler{ticker: time.NewTicker(interval)}
}

// C returns the tick channel.
func (s *TickerScheduler) C() <-chan time.Time {
	return s.ticker.C
}

// Stop stops the underlying ticker.
func (s *TickerScheduler) Stop() {
	s.ticker.Stop()
}

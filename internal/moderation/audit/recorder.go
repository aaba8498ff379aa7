// Package audit persists AI detection results in the background.
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

const (
	// DefaultQueueSize is the number of pending entries kept when none is configured.
	DefaultQueueSize = 256
	// writeTimeout bounds a single sink write.
	writeTimeout = 10 * time.Second
)

// ErrClosed is returned when the recorder did not drain before the deadline.
var ErrClosed = errors.New("audit recorder closed before draining")

// Sink stores detection log entries. Implementations handle their own errors.
type Sink interface {
	LogAIAnalysis(ctx context.Context, entry *types.DetectionLog)
}

// Recorder queues detection log entries and writes them from a single
// background worker. Entries are dropped when the queue is full so message
// processing never waits on storage.
type Recorder struct {
	sink    Sink
	logger  *zap.Logger
	queue   chan *types.DetectionLog
	wg      conc.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder creates a Recorder and starts its worker.
func NewRecorder(sink Sink, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	r := &Recorder{
		sink:   sink,
		logger: logger.Named("audit"),
		queue:  make(chan *types.DetectionLog, queueSize),
	}

	r.wg.Go(r.run)

	return r
}

// Record enqueues an entry. It returns false if the entry was dropped.
func (r *Recorder) Record(entry *types.DetectionLog) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return false
	}

	select {
	case r.queue <- entry:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn("Audit queue full, dropping entry",
			zap.String("userID", entry.UserID),
			zap.String("chatID", entry.ChatID))
		return false
	}
}

// Dropped returns how many entries were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns how many entries reached the sink.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Close stops accepting entries and waits for the queue to drain or the
// context to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrClosed
	}
}

func (r *Recorder) run() {
	for entry := range r.queue {
		r.write(entry)
	}
}

// write hands one entry to the sink, containing any panic.
func (r *Recorder) write(entry *types.DetectionLog) {
	var pc panics.Catcher

	pc.Try(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		r.sink.LogAIAnalysis(ctx, entry)
		r.written.Add(1)
	})

	if recovered := pc.Recovered(); recovered != nil {
		r.logger.Error("Audit write panicked",
			zap.String("userID", entry.UserID),
			zap.Error(recovered.AsError()))
	}
}

// Package metrics throttles effort-metric reports on their way to the
// backend.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/verte-zerg/proofwork/internal/clock"
	"github.com/verte-zerg/proofwork/internal/model"
)

// DefaultInterval is the debounce window used when none is configured.
const DefaultInterval = time.Second

// DefaultDrainTimeout bounds how long Cleanup waits for queued sends.
const DefaultDrainTimeout = 2 * time.Second

// Sender delivers one report to the backend.
type Sender interface {
	UpdateMetrics(ctx context.Context, sessionID int64, report model.EffortMetricsReport) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, sessionID int64, report model.EffortMetricsReport) error

// UpdateMetrics implements Sender.
func (f SenderFunc) UpdateMetrics(ctx context.Context, sessionID int64, report model.EffortMetricsReport) error {
	return f(ctx, sessionID, report)
}

// Updater coalesces reports so at most one debounced send happens per
// interval. Forced reports skip the window. Sends are delivered in order by
// a single worker goroutine.
type Updater struct {
	sessionID int64
	interval  time.Duration
	sender    Sender
	clock     clock.Clock
	logger    *zap.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	drainTimeout time.Duration

	mu       sync.Mutex
	cond     *sync.Cond
	pending  *model.EffortMetricsReport
	timer    clock.Timer
	gen      uint64
	last     *model.EffortMetricsReport
	queue    []model.EffortMetricsReport
	inflight context.CancelFunc
	closed   bool
}

// NewUpdater starts an updater for sessionID. Call Cleanup when done.
func NewUpdater(sessionID int64, interval time.Duration, sender Sender, clk clock.Clock, logger *zap.Logger) *Updater {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &Updater{
		sessionID:    sessionID,
		interval:     interval,
		sender:       sender,
		clock:        clk,
		logger:       logger.With(zap.Int64("session_id", sessionID)),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		drainTimeout: DefaultDrainTimeout,
	}
	u.cond = sync.NewCond(&u.mu)
	go u.run()
	return u
}

// Update records report for the next window. The latest value wins; the
// window is not extended by later calls.
func (u *Updater) Update(report model.EffortMetricsReport) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	if u.pending == nil && u.last != nil && cmp.Equal(*u.last, report) {
		return
	}
	u.pending = &report
	if u.timer != nil {
		return
	}
	gen := u.gen
	u.timer = u.clock.AfterFunc(u.interval, func() { u.flush(gen) })
}

// ForceUpdate drops the pending window and sends report right away.
func (u *Updater) ForceUpdate(report model.EffortMetricsReport) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.stopTimerLocked()
	u.enqueueLocked(report)
}

// Abort cancels the in-flight send and any pending window. The sender's
// cancellation error is not surfaced.
func (u *Updater) Abort() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopTimerLocked()
	if u.inflight != nil {
		u.inflight()
	}
}

// Cleanup stops pending timers, waits up to the drain timeout for queued
// sends and rejects further reports. Once the timeout passes, the queue is
// dropped and the in-flight send is cancelled. It is safe to call more than
// once.
func (u *Updater) Cleanup() {
	u.mu.Lock()
	if !u.closed {
		u.closed = true
		u.stopTimerLocked()
		u.cond.Broadcast()
	}
	u.mu.Unlock()

	drain := time.NewTimer(u.drainTimeout)
	defer drain.Stop()
	select {
	case <-u.done:
	case <-drain.C:
		u.mu.Lock()
		dropped := len(u.queue)
		u.queue = nil
		u.mu.Unlock()
		u.logger.Warn("metrics drain timed out",
			zap.Duration("timeout", u.drainTimeout),
			zap.Int("dropped", dropped))
		u.cancel()
		<-u.done
	}
	u.cancel()
}

func (u *Updater) flush(gen uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed || gen != u.gen {
		return
	}
	u.timer = nil
	u.gen++
	if u.pending == nil {
		return
	}
	report := *u.pending
	u.pending = nil
	u.enqueueLocked(report)
}

func (u *Updater) stopTimerLocked() {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.gen++
	u.pending = nil
}

func (u *Updater) enqueueLocked(report model.EffortMetricsReport) {
	if u.last != nil && cmp.Equal(*u.last, report) {
		u.logger.Debug("skipping unchanged metrics")
		return
	}
	u.last = &report
	u.queue = append(u.queue, report)
	u.cond.Signal()
}

func (u *Updater) run() {
	defer close(u.done)
	for {
		u.mu.Lock()
		for len(u.queue) == 0 && !u.closed {
			u.cond.Wait()
		}
		if len(u.queue) == 0 {
			u.mu.Unlock()
			return
		}
		report := u.queue[0]
		u.queue = u.queue[1:]
		ctx, cancel := context.WithCancel(u.ctx)
		u.inflight = cancel
		u.mu.Unlock()

		err := u.sender.UpdateMetrics(ctx, u.sessionID, report)

		u.mu.Lock()
		u.inflight = nil
		u.mu.Unlock()
		cancel()

		switch {
		case err == nil:
			u.logger.Debug("metrics sent",
				zap.Int("puzzles_solved", report.PuzzlesSolved),
				zap.Int("clicks", report.ClicksCount),
				zap.Int64("time_spent_ms", report.TimeSpentMs))
		case errors.Is(err, context.Canceled):
			u.logger.Debug("metrics send aborted")
		default:
			u.logger.Warn("failed to send metrics", zap.Error(err))
		}
	}
}

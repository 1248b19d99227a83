// Package task hosts an effort orchestrator: it arms timers on a clock,
// routes metric reports through the debouncer and runs finalize calls
// against the backend.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/proofwork/internal/clock"
	"github.com/verte-zerg/proofwork/internal/effort"
	"github.com/verte-zerg/proofwork/internal/metrics"
	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/puzzle"
)

// Backend persists the outcome of the effort step.
type Backend interface {
	UpdateSkillsRankingState(ctx context.Context, update model.StateUpdate) (model.SkillsRankingSessionState, error)
}

// Callbacks are invoked without the task lock held. Any of them may be nil.
type Callbacks struct {
	OnSuccess func()
	OnCancel  func()
	OnReport  func(report model.EffortMetricsReport)
	OnFinish  func(state model.SkillsRankingSessionState)
	OnNotify  func(message string, err error)
	// OnChange fires after every handled event.
	OnChange func()
}

// Config defines task settings.
type Config struct {
	Effort           effort.Config
	DebounceInterval time.Duration
}

// Deps are the task collaborators. Sessions defaults to the session of the
// state the task was built for.
type Deps struct {
	Backend   Backend
	Metrics   metrics.Sender
	Sessions  effort.SessionProvider
	Policy    effort.DisclosurePolicy
	Generator puzzle.Challenger
	Clock     clock.Clock
	Logger    *zap.Logger
}

type armedTimer struct {
	timer clock.Timer
	gen   uint64
}

// Task runs one effort task.
type Task struct {
	backend Backend
	clock   clock.Clock
	logger  *zap.Logger
	cb      Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	orch    *effort.Orchestrator
	updater *metrics.Updater
	timers  map[effort.TimerID]armedTimer
	gen     uint64
	closed  bool
}

// New builds a task for state. Replays get no debouncer and never call the
// backend.
func New(cfg Config, state model.SkillsRankingSessionState, deps Deps, cb Callbacks) (*Task, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = effort.StaticSession(state.SessionID)
	}
	orch, err := effort.New(cfg.Effort, state, effort.Deps{
		Sessions:  sessions,
		Policy:    deps.Policy,
		Generator: deps.Generator,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		backend: deps.Backend,
		clock:   clk,
		logger:  logger,
		cb:      cb,
		ctx:     ctx,
		cancel:  cancel,
		orch:    orch,
		timers:  make(map[effort.TimerID]armedTimer),
	}
	if !orch.IsReplay() && deps.Metrics != nil {
		t.updater = metrics.NewUpdater(state.SessionID, cfg.DebounceInterval, deps.Metrics, clk, logger)
	}
	return t, nil
}

// Start mounts the task.
func (t *Task) Start() {
	t.dispatch(t.orch.Mount)
}

// Select picks a puzzle character.
func (t *Task) Select(index int) {
	t.dispatch(func(now time.Time) []effort.Effect { return t.orch.Select(now, index) })
}

// Rotate turns the selected character.
func (t *Task) Rotate(delta int) {
	t.dispatch(func(now time.Time) []effort.Effect { return t.orch.Rotate(now, delta) })
}

// Cancel abandons the task.
func (t *Task) Cancel() {
	t.dispatch(t.orch.Cancel)
}

// Retry re-issues a failed or deferred finalize.
func (t *Task) Retry() {
	t.dispatch(t.orch.Retry)
}

// View returns the orchestrator snapshot.
func (t *Task) View() effort.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orch.View()
}

// Close tears the task down: timers are stopped, an in-flight finalize is
// cancelled and queued metric reports get a bounded drain. Close waits for
// callbacks already running, so none fires after it returns. Callbacks must
// not call Close.
func (t *Task) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, armed := range t.timers {
		armed.timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	if t.updater != nil {
		t.updater.Cleanup()
	}
}

func (t *Task) dispatch(event func(now time.Time) []effort.Effect) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	calls := t.applyLocked(event(t.clock.Now()))
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	for _, call := range calls {
		call()
	}
	if t.cb.OnChange != nil {
		t.cb.OnChange()
	}
}

func (t *Task) fire(id effort.TimerID, gen uint64) {
	t.dispatch(func(now time.Time) []effort.Effect {
		armed, ok := t.timers[id]
		if !ok || armed.gen != gen {
			return nil
		}
		delete(t.timers, id)
		return t.orch.TimerFired(now, id)
	})
}

// applyLocked performs the effects in order and returns the callbacks to run
// once the lock is released.
func (t *Task) applyLocked(effects []effort.Effect) []func() {
	var calls []func()
	for _, eff := range effects {
		switch e := eff.(type) {
		case effort.Schedule:
			t.armLocked(e.Timer, e.Delay)
		case effort.Unschedule:
			t.disarmLocked(e.Timer)
		case effort.Report:
			if t.updater != nil {
				if e.Final {
					t.updater.ForceUpdate(e.Report)
				} else {
					t.updater.Update(e.Report)
				}
			}
			if t.cb.OnReport != nil {
				report := e.Report
				calls = append(calls, func() { t.cb.OnReport(report) })
			}
		case effort.PuzzleSolved:
			if t.cb.OnSuccess != nil {
				calls = append(calls, t.cb.OnSuccess)
			}
		case effort.Cancelled:
			if t.cb.OnCancel != nil {
				calls = append(calls, t.cb.OnCancel)
			}
		case effort.Finalize:
			t.finalizeLocked(e.Update)
		case effort.Notify:
			if t.cb.OnNotify != nil {
				msg, err := e.Message, e.Err
				calls = append(calls, func() { t.cb.OnNotify(msg, err) })
			}
		case effort.Finish:
			if t.cb.OnFinish != nil {
				state := e.State
				calls = append(calls, func() { t.cb.OnFinish(state) })
			}
		case effort.ShowIndicator, effort.HideIndicator:
			// Rendered from View.
		}
	}
	return calls
}

func (t *Task) armLocked(id effort.TimerID, delay time.Duration) {
	t.disarmLocked(id)
	t.gen++
	gen := t.gen
	timer := t.clock.AfterFunc(delay, func() { t.fire(id, gen) })
	t.timers[id] = armedTimer{timer: timer, gen: gen}
}

func (t *Task) disarmLocked(id effort.TimerID) {
	if armed, ok := t.timers[id]; ok {
		armed.timer.Stop()
		delete(t.timers, id)
	}
}

func (t *Task) finalizeLocked(update model.StateUpdate) {
	if t.backend == nil {
		err := fmt.Errorf("failed to finalize session %d: no backend configured", update.SessionID)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.dispatch(func(time.Time) []effort.Effect { return t.orch.FinalizeFailed(err) })
		}()
		return
	}
	t.logger.Debug("finalizing effort task",
		zap.Int64("session_id", update.SessionID),
		zap.String("next_phase", string(update.NextPhase)))
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		state, err := t.backend.UpdateSkillsRankingState(t.ctx, update)
		if t.ctx.Err() != nil {
			return
		}
		t.dispatch(func(time.Time) []effort.Effect {
			if err != nil {
				return t.orch.FinalizeFailed(fmt.Errorf("failed to update skills ranking state: %w", err))
			}
			return t.orch.FinalizeSucceeded(state)
		})
	}()
}

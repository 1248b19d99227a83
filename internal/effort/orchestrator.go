// Package effort decides how a user demonstrates effort (waiting out a timer
// or solving puzzles), tracks the outcome and finalizes it with the backend.
//
// The Orchestrator is a state machine: every operation takes the current
// time and returns the effects the host must perform, in order.
package effort

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/proofwork/internal/generator"
	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/puzzle"
	"github.com/verte-zerg/proofwork/internal/replay"
)

// Defaults for Config.
const (
	DefaultWaitDuration     = 5 * time.Second
	DefaultCalculationDelay = 3 * time.Second
)

// MessageFinalizeFailed is shown when the backend rejects an outcome.
const MessageFinalizeFailed = "Something went wrong while saving your progress. Please try again."

// Status is the orchestrator state.
type Status int

// Orchestrator states.
const (
	StatusInit Status = iota
	StatusTimeWaiting
	StatusWorkWaiting
	StatusCompleting
	StatusFinalizing
	StatusDone
	StatusCancelled
	StatusReplay
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusTimeWaiting:
		return "time-waiting"
	case StatusWorkWaiting:
		return "work-waiting"
	case StatusCompleting:
		return "completing"
	case StatusFinalizing:
		return "finalizing"
	case StatusDone:
		return "done"
	case StatusCancelled:
		return "cancelled"
	case StatusReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// Config defines orchestrator settings.
type Config struct {
	Puzzle           puzzle.Config
	WaitDuration     time.Duration
	CalculationDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.WaitDuration <= 0 {
		c.WaitDuration = DefaultWaitDuration
	}
	if c.CalculationDelay <= 0 {
		c.CalculationDelay = DefaultCalculationDelay
	}
	return c
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Sessions  SessionProvider
	Policy    DisclosurePolicy
	Generator puzzle.Challenger
	Logger    *zap.Logger
}

// Orchestrator drives one effort task.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	state      model.SkillsRankingSessionState
	effortType model.EffortType
	status     Status
	startTime  time.Time

	engine     *puzzle.Engine
	lastReport *model.EffortMetricsReport
	snapshot   *replay.Snapshot

	indicator IndicatorKind
	notice    string

	pending        *model.StateUpdate
	resumeStatus   Status
	cancelAnnounce bool
}

// New builds an orchestrator for the session. An unknown experiment group
// fails fast. A nil Generator defaults to a time-seeded one.
func New(cfg Config, state model.SkillsRankingSessionState, deps Deps) (*Orchestrator, error) {
	effortType, err := model.EffortTypeFor(state.ExperimentGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to select effort type: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Generator == nil {
		deps.Generator = generator.New()
	}
	o := &Orchestrator{
		cfg:        cfg.withDefaults(),
		deps:       deps,
		logger:     logger.With(zap.Int64("session_id", state.SessionID), zap.String("effort_type", string(effortType))),
		state:      state,
		effortType: effortType,
	}
	if state.IsReplay() {
		snap, err := replay.Reconstruct(state, o.cfg.Puzzle)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct replay: %w", err)
		}
		o.snapshot = &snap
		return o, nil
	}
	if effortType == model.WorkBased {
		engine, err := puzzle.New(o.cfg.Puzzle, deps.Generator)
		if err != nil {
			return nil, fmt.Errorf("failed to build puzzle: %w", err)
		}
		o.engine = engine
	}
	return o, nil
}

// EffortType returns the strategy chosen for the cohort.
func (o *Orchestrator) EffortType() model.EffortType {
	return o.effortType
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	return o.status
}

// IsReplay reports whether the orchestrator is reconstructing a past task.
func (o *Orchestrator) IsReplay() bool {
	return o.snapshot != nil
}

// Mount starts the task. Replays start nothing.
func (o *Orchestrator) Mount(now time.Time) []Effect {
	if o.status != StatusInit {
		return nil
	}
	if o.snapshot != nil {
		o.status = StatusReplay
		return nil
	}
	o.startTime = now
	if o.effortType == model.TimeBased {
		o.status = StatusTimeWaiting
		o.logger.Debug("waiting started", zap.Duration("wait", o.cfg.WaitDuration))
		return []Effect{
			o.show(IndicatorWaiting, true),
			Schedule{Timer: TimerWait, Delay: o.cfg.WaitDuration},
		}
	}
	o.status = StatusWorkWaiting
	o.logger.Debug("puzzle task started", zap.Int("puzzles", o.engine.Config().Puzzles))
	return nil
}

// Select forwards a character selection to the puzzle.
func (o *Orchestrator) Select(now time.Time, index int) []Effect {
	if o.status != StatusWorkWaiting || o.engine == nil {
		return nil
	}
	return o.translate(now, o.engine.Select(now, index))
}

// Rotate forwards a rotation to the puzzle.
func (o *Orchestrator) Rotate(now time.Time, delta int) []Effect {
	if o.status != StatusWorkWaiting || o.engine == nil {
		return nil
	}
	return o.translate(now, o.engine.Rotate(now, delta))
}

// TimerFired handles an elapsed timer. Stale timers are ignored.
func (o *Orchestrator) TimerFired(now time.Time, id TimerID) []Effect {
	switch id {
	case TimerWait:
		if o.status != StatusTimeWaiting || o.pending != nil {
			return nil
		}
		o.status = StatusCompleting
		update := model.StateUpdate{
			Metrics: model.ProofOfValueMetrics{
				SucceededAfter: fmt.Sprintf("%dms", o.cfg.WaitDuration.Milliseconds()),
			},
		}
		return o.finalize(update, StatusTimeWaiting)
	case TimerCalculation:
		if o.status != StatusCompleting {
			return nil
		}
		return o.finalize(o.completedUpdate(), StatusWorkWaiting)
	default:
		if o.status != StatusWorkWaiting || o.engine == nil {
			return nil
		}
		return o.translate(now, o.engine.TimerFired(now, puzzle.TimerID(id)))
	}
}

// Cancel abandons the task. After a failed cancellation it retries the
// finalize call.
func (o *Orchestrator) Cancel(now time.Time) []Effect {
	switch o.status {
	case StatusTimeWaiting, StatusWorkWaiting:
	case StatusCancelled:
		if o.pending == nil {
			return nil
		}
		return o.dispatchPending()
	default:
		return nil
	}

	var effects []Effect
	if o.status == StatusTimeWaiting {
		effects = append(effects, Unschedule{Timer: TimerWait})
	}
	if o.engine != nil {
		if o.engine.Started() {
			report := o.engine.Metrics(now)
			o.lastReport = &report
			effects = append(effects, Report{Report: report, Final: true})
		}
		effects = append(effects, o.translate(now, o.engine.Halt())...)
	}
	if !o.cancelAnnounce {
		o.cancelAnnounce = true
		effects = append(effects, Cancelled{})
	}
	effects = append(effects, o.hide())

	elapsed := now.Sub(o.startTime)
	o.logger.Info("effort task cancelled", zap.Duration("elapsed", elapsed))
	o.status = StatusCancelled
	update := model.StateUpdate{CancelledAfter: fmt.Sprintf("%ds", int64(elapsed/time.Second))}
	return append(effects, o.finalize(update, StatusCancelled)...)
}

// Retry re-issues a finalize call that failed or had no active session.
func (o *Orchestrator) Retry(_ time.Time) []Effect {
	if o.pending == nil || o.status == StatusFinalizing || o.status == StatusDone {
		return nil
	}
	return o.dispatchPending()
}

// FinalizeSucceeded completes the task with the backend-confirmed state.
func (o *Orchestrator) FinalizeSucceeded(state model.SkillsRankingSessionState) []Effect {
	if o.status != StatusFinalizing {
		return nil
	}
	o.status = StatusDone
	o.pending = nil
	o.notice = ""
	o.state = state
	o.logger.Info("effort task finalized", zap.String("next_phase", string(state.LastPhase())))
	return []Effect{o.hide(), Finish{State: state}}
}

// FinalizeFailed returns to the state before finalizing so the user can retry.
func (o *Orchestrator) FinalizeFailed(err error) []Effect {
	if o.status != StatusFinalizing {
		return nil
	}
	o.status = o.resumeStatus
	o.notice = MessageFinalizeFailed
	o.logger.Warn("failed to finalize effort task", zap.Error(err))
	return []Effect{Notify{Message: MessageFinalizeFailed, Err: err}}
}

func (o *Orchestrator) translate(now time.Time, in []puzzle.Effect) []Effect {
	var out []Effect
	for _, eff := range in {
		switch e := eff.(type) {
		case puzzle.Report:
			report := e.Report
			o.lastReport = &report
			out = append(out, Report{Report: report, Final: e.Kind == puzzle.ReportFinal})
		case puzzle.Schedule:
			out = append(out, Schedule{Timer: TimerID(e.Timer), Delay: e.Delay})
		case puzzle.Unschedule:
			out = append(out, Unschedule{Timer: TimerID(e.Timer)})
		case puzzle.Success:
			out = append(out, o.puzzleSolved(now)...)
		}
	}
	return out
}

func (o *Orchestrator) puzzleSolved(_ time.Time) []Effect {
	o.status = StatusCompleting
	o.logger.Debug("all puzzles solved")
	return []Effect{
		PuzzleSolved{},
		o.show(IndicatorTyping, false),
		Schedule{Timer: TimerCalculation, Delay: o.cfg.CalculationDelay},
	}
}

func (o *Orchestrator) completedUpdate() model.StateUpdate {
	var report model.EffortMetricsReport
	if o.lastReport != nil {
		report = *o.lastReport
	}
	correct := report.CorrectRotations
	solved := report.PuzzlesSolved
	clicks := report.ClicksCount
	return model.StateUpdate{
		Metrics: model.ProofOfValueMetrics{
			SucceededAfter:   fmt.Sprintf("%dms", report.TimeSpentMs),
			CorrectRotations: &correct,
			PuzzlesSolved:    &solved,
			ClicksCount:      &clicks,
		},
	}
}

func (o *Orchestrator) finalize(update model.StateUpdate, resume Status) []Effect {
	o.pending = &update
	o.resumeStatus = resume
	return o.dispatchPending()
}

func (o *Orchestrator) dispatchPending() []Effect {
	id, ok := o.activeSession()
	if !ok {
		o.logger.Debug("no active session; finalize deferred")
		o.status = o.resumeStatus
		return nil
	}
	update := *o.pending
	update.SessionID = id
	update.NextPhase = o.nextPhase()
	o.status = StatusFinalizing
	o.notice = ""
	return []Effect{Finalize{Update: update}}
}

func (o *Orchestrator) activeSession() (int64, bool) {
	if o.deps.Sessions == nil {
		return 0, false
	}
	return o.deps.Sessions.ActiveSessionID()
}

func (o *Orchestrator) nextPhase() model.Phase {
	if o.deps.Policy != nil && o.deps.Policy.ShouldSkipMarketDisclosure(o.state) {
		return model.PhaseJobSeekerDisclosure
	}
	return model.PhaseMarketDisclosure
}

func (o *Orchestrator) show(kind IndicatorKind, cancellable bool) Effect {
	o.indicator = kind
	return ShowIndicator{Kind: kind, Cancellable: cancellable}
}

func (o *Orchestrator) hide() Effect {
	o.indicator = IndicatorNone
	return HideIndicator{}
}

// View is a read-only snapshot for renderers.
type View struct {
	EffortType  model.EffortType
	Status      Status
	Indicator   IndicatorKind
	Cancellable bool
	CanRetry    bool
	Notice      string
	StartedAt   time.Time
	Wait        time.Duration
	Puzzle      *puzzle.View
	Replay      *replay.Snapshot
	State       model.SkillsRankingSessionState
}

// View returns a snapshot of the orchestrator state.
func (o *Orchestrator) View() View {
	v := View{
		EffortType:  o.effortType,
		Status:      o.status,
		Indicator:   o.indicator,
		Cancellable: o.status == StatusTimeWaiting || o.status == StatusWorkWaiting,
		CanRetry:    o.pending != nil && o.status != StatusFinalizing && o.status != StatusDone,
		Notice:      o.notice,
		StartedAt:   o.startTime,
		Wait:        o.cfg.WaitDuration,
		Replay:      o.snapshot,
		State:       o.state,
	}
	if o.engine != nil {
		pv := o.engine.View()
		v.Puzzle = &pv
	}
	return v
}

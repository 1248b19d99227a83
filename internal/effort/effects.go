package effort

import (
	"time"

	"github.com/verte-zerg/proofwork/internal/model"
)

// TimerID names a timer the host arms on behalf of the orchestrator.
type TimerID string

// Orchestrator timers. Puzzle timers are forwarded under their own ids.
const (
	TimerWait        TimerID = "effort.wait"
	TimerCalculation TimerID = "effort.calculation"
)

// IndicatorKind is the visible progress indicator.
type IndicatorKind int

// Indicator kinds.
const (
	IndicatorNone IndicatorKind = iota
	IndicatorWaiting
	IndicatorTyping
)

func (k IndicatorKind) String() string {
	switch k {
	case IndicatorWaiting:
		return "waiting"
	case IndicatorTyping:
		return "typing"
	default:
		return "none"
	}
}

// Effect is a side effect the host performs after a transition.
type Effect interface {
	effect()
}

// ShowIndicator displays the thinking or typing indicator.
type ShowIndicator struct {
	Kind        IndicatorKind
	Cancellable bool
}

// HideIndicator removes the indicator.
type HideIndicator struct{}

// Schedule arms a timer; the host calls TimerFired when it elapses.
type Schedule struct {
	Timer TimerID
	Delay time.Duration
}

// Unschedule disarms a timer.
type Unschedule struct {
	Timer TimerID
}

// Report delivers effort metrics. Final reports bypass debouncing.
type Report struct {
	Report model.EffortMetricsReport
	Final  bool
}

// PuzzleSolved is raised once every puzzle was solved.
type PuzzleSolved struct{}

// Cancelled is raised when the user abandons the task.
type Cancelled struct{}

// Finalize asks the host to call the backend with Update and feed the
// result back through FinalizeSucceeded or FinalizeFailed.
type Finalize struct {
	Update model.StateUpdate
}

// Notify surfaces a user-visible message.
type Notify struct {
	Message string
	Err     error
}

// Finish reports the terminal outcome confirmed by the backend.
type Finish struct {
	State model.SkillsRankingSessionState
}

func (ShowIndicator) effect() {}
func (HideIndicator) effect() {}
func (Schedule) effect()      {}
func (Unschedule) effect()    {}
func (Report) effect()        {}
func (PuzzleSolved) effect()  {}
func (Cancelled) effect()     {}
func (Finalize) effect()      {}
func (Notify) effect()        {}
func (Finish) effect()        {}

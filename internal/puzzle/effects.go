package puzzle

import (
	"time"

	"github.com/verte-zerg/proofwork/internal/model"
)

// TimerID names a timer the host arms on behalf of the engine.
type TimerID string

// TimerFeedback delays the transition after a puzzle is completed.
const TimerFeedback TimerID = "puzzle.feedback"

// ReportKind tells the host which interaction produced a report.
type ReportKind int

// Report kinds.
const (
	ReportSelect ReportKind = iota
	ReportRotate
	ReportFinal
)

func (k ReportKind) String() string {
	switch k {
	case ReportSelect:
		return "select"
	case ReportRotate:
		return "rotate"
	case ReportFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Effect is a side effect the host performs after a transition.
type Effect interface {
	effect()
}

// Report asks the host to deliver metrics.
type Report struct {
	Kind   ReportKind
	Report model.EffortMetricsReport
}

// Schedule asks the host to arm a timer and call TimerFired when it elapses.
type Schedule struct {
	Timer TimerID
	Delay time.Duration
}

// Unschedule asks the host to disarm a timer.
type Unschedule struct {
	Timer TimerID
}

// Success signals that every configured puzzle was solved.
type Success struct{}

func (Report) effect()     {}
func (Schedule) effect()   {}
func (Unschedule) effect() {}
func (Success) effect()    {}

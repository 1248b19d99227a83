// Package replay reconstructs the terminal view of an effort step that was
// already passed. Reconstruction arms no timers and emits no reports.
package replay

import (
	"errors"
	"fmt"

	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/puzzle"
)

// ErrLiveSession is returned when the effort step is still in progress.
var ErrLiveSession = errors.New("session is still in the proof-of-value phase")

// Outcome summarizes how the effort step ended.
type Outcome string

// Outcomes.
const (
	OutcomeNotReached Outcome = "not-reached"
	OutcomeCompleted  Outcome = "completed"
	OutcomeCancelled  Outcome = "cancelled"
)

// Messages for time-based and cancelled reconstructions.
const (
	MessageWaitComplete = "Thanks for waiting! Your results are ready."
	MessageCancelled    = "You stopped the task early."
	MessageNotReached   = "This step has not been reached yet."
)

// Snapshot is the read-only terminal state of a past effort step.
type Snapshot struct {
	SessionID  int64
	EffortType model.EffortType
	Outcome    Outcome
	Message    string
	Result     model.ProofOfValueResult
	// Puzzle is set for work-based sessions.
	Puzzle *puzzle.View
}

// Reconstruct builds the terminal snapshot of a session from its phase
// history and persisted proof-of-value result. The result depends on the
// stored state only; no puzzle is generated.
func Reconstruct(state model.SkillsRankingSessionState, cfg puzzle.Config) (Snapshot, error) {
	effortType, err := model.EffortTypeFor(state.ExperimentGroup)
	if err != nil {
		return Snapshot{}, err
	}
	if !state.IsReplay() {
		return Snapshot{}, ErrLiveSession
	}
	snap := Snapshot{
		SessionID:  state.SessionID,
		EffortType: effortType,
		Result:     state.ProofOfValue,
		Outcome:    outcomeOf(state),
	}
	switch snap.Outcome {
	case OutcomeNotReached:
		snap.Message = MessageNotReached
	case OutcomeCancelled:
		snap.Message = MessageCancelled
	default:
		snap.Message = MessageWaitComplete
	}
	if effortType != model.WorkBased {
		return snap, nil
	}

	cfg.IsReplay = true
	cfg.IsReplayFinished = snap.Outcome == OutcomeCompleted
	cfg.ReplayReport = &model.EffortMetricsReport{
		PuzzlesSolved:    state.ProofOfValue.PuzzlesSolved,
		CorrectRotations: state.ProofOfValue.CorrectRotations,
		ClicksCount:      state.ProofOfValue.ClicksCount,
	}
	engine, err := puzzle.New(cfg, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to rebuild puzzle: %w", err)
	}
	view := engine.View()
	snap.Puzzle = &view
	if snap.Outcome == OutcomeCompleted {
		snap.Message = view.Message
	}
	return snap, nil
}

func outcomeOf(state model.SkillsRankingSessionState) Outcome {
	if !state.IsReplayFinished() {
		return OutcomeNotReached
	}
	if state.ProofOfValue.Cancelled() {
		return OutcomeCancelled
	}
	return OutcomeCompleted
}

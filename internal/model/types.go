// Package model defines shared data structures.
package model

import (
	"errors"
	"fmt"
	"time"
)

// CharacterState tracks one rune of the active puzzle.
type CharacterState struct {
	Char    rune
	Angle   int
	Touched bool
	Checked bool
}

// IsSpace reports whether the character is an inert space.
func (c CharacterState) IsSpace() bool {
	return c.Char == ' '
}

// PuzzleCounters persists across puzzles within one live task.
type PuzzleCounters struct {
	PuzzleIndex      int
	CorrectInCurrent int
	TotalCorrect     int
	Clicks           int
	StartTime        time.Time
}

// EffortMetricsReport is emitted after every meaningful interaction.
type EffortMetricsReport struct {
	PuzzlesSolved    int   `json:"puzzles_solved"`
	CorrectRotations int   `json:"correct_rotations"`
	ClicksCount      int   `json:"clicks_count"`
	TimeSpentMs      int64 `json:"time_spent_ms"`
}

// ExperimentGroup identifies a user cohort.
type ExperimentGroup string

// Known experiment groups.
const (
	Group1 ExperimentGroup = "GROUP_1"
	Group2 ExperimentGroup = "GROUP_2"
	Group3 ExperimentGroup = "GROUP_3"
	Group4 ExperimentGroup = "GROUP_4"
)

// ExperimentGroups lists every known cohort in order.
var ExperimentGroups = []ExperimentGroup{Group1, Group2, Group3, Group4}

// ErrUnknownExperimentGroup is returned for cohorts outside the known set.
var ErrUnknownExperimentGroup = errors.New("unknown experiment group")

// ParseExperimentGroup validates a raw cohort identifier.
func ParseExperimentGroup(raw string) (ExperimentGroup, error) {
	for _, g := range ExperimentGroups {
		if string(g) == raw {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownExperimentGroup, raw)
}

// EffortType selects how effort is demonstrated.
type EffortType string

// Effort types.
const (
	TimeBased EffortType = "TIME_BASED"
	WorkBased EffortType = "WORK_BASED"
)

// Phase is a step of the skills ranking flow.
type Phase string

// Skills ranking phases.
const (
	PhaseInitial             Phase = "INITIAL"
	PhaseBriefing            Phase = "BRIEFING"
	PhaseProofOfValue        Phase = "PROOF_OF_VALUE"
	PhaseMarketDisclosure    Phase = "MARKET_DISCLOSURE"
	PhaseJobSeekerDisclosure Phase = "JOB_SEEKER_DISCLOSURE"
	PhasePerceivedRank       Phase = "PERCEIVED_RANK"
	PhaseRetypedRank         Phase = "RETYPED_RANK"
	PhaseCompleted           Phase = "COMPLETED"
)

var phaseOrder = []Phase{
	PhaseInitial,
	PhaseBriefing,
	PhaseProofOfValue,
	PhaseMarketDisclosure,
	PhaseJobSeekerDisclosure,
	PhasePerceivedRank,
	PhaseRetypedRank,
	PhaseCompleted,
}

// ErrUnknownPhase is returned for phase names outside the flow.
var ErrUnknownPhase = errors.New("unknown phase")

// Index returns the position of p in the flow, or -1.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// ParsePhase validates a raw phase name.
func ParsePhase(raw string) (Phase, error) {
	p := Phase(raw)
	if p.Index() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, raw)
	}
	return p, nil
}

// PhaseEntry records when a phase was entered.
type PhaseEntry struct {
	Name Phase     `json:"name"`
	Time time.Time `json:"time"`
}

// ProofOfValueResult is the persisted outcome of the effort step.
type ProofOfValueResult struct {
	CancelledAfter   string `json:"cancelled_after,omitempty"`
	SucceededAfter   string `json:"succeeded_after,omitempty"`
	PuzzlesSolved    int    `json:"puzzles_solved"`
	CorrectRotations int    `json:"correct_rotations"`
	ClicksCount      int    `json:"clicks_count"`
}

// Cancelled reports whether the user abandoned the effort step.
func (r ProofOfValueResult) Cancelled() bool {
	return r.CancelledAfter != ""
}

// SkillsRankingSessionState is the backend view of a session.
type SkillsRankingSessionState struct {
	SessionID       int64              `json:"session_id"`
	ExperimentGroup ExperimentGroup    `json:"experiment_group"`
	PhaseHistory    []PhaseEntry       `json:"phase"`
	Score           float64            `json:"score"`
	ProofOfValue    ProofOfValueResult `json:"proof_of_value"`

	PerceivedPercentile *float64 `json:"perceived_rank_percentile,omitempty"`
	RetypedPercentile   *float64 `json:"retyped_rank_percentile,omitempty"`
}

// LastPhase returns the most recent phase, or "" for an empty history.
func (s SkillsRankingSessionState) LastPhase() Phase {
	if len(s.PhaseHistory) == 0 {
		return ""
	}
	return s.PhaseHistory[len(s.PhaseHistory)-1].Name
}

// IsReplay reports whether the effort step is not the live phase.
func (s SkillsRankingSessionState) IsReplay() bool {
	return s.LastPhase() != PhaseProofOfValue
}

// IsReplayFinished reports whether the effort step was passed already.
func (s SkillsRankingSessionState) IsReplayFinished() bool {
	for i, entry := range s.PhaseHistory {
		if entry.Name == PhaseProofOfValue {
			return i < len(s.PhaseHistory)-1
		}
	}
	return false
}

// ProofOfValueMetrics carries effort metrics on a state update.
type ProofOfValueMetrics struct {
	SucceededAfter   string `json:"succeeded_after,omitempty"`
	CorrectRotations *int   `json:"correct_rotations,omitempty"`
	PuzzlesSolved    *int   `json:"puzzles_solved,omitempty"`
	ClicksCount      *int   `json:"clicks_count,omitempty"`
}

// StateUpdate is a request to advance a session to its next phase.
type StateUpdate struct {
	SessionID           int64               `json:"session_id"`
	NextPhase           Phase               `json:"phase"`
	CancelledAfter      string              `json:"cancelled_after,omitempty"`
	PerceivedPercentile *float64            `json:"perceived_rank_percentile,omitempty"`
	RetypedPercentile   *float64            `json:"retyped_rank_percentile,omitempty"`
	Metrics             ProofOfValueMetrics `json:"metrics"`
}

// StoredSession summarizes a persisted session for reporting.
type StoredSession struct {
	SessionID       int64
	ExperimentGroup ExperimentGroup
	LastPhase       Phase
	CreatedAt       time.Time
	ProofOfValue    ProofOfValueResult
	LastReport      *EffortMetricsReport
}

// SessionFilter selects stored sessions for reporting.
type SessionFilter struct {
	Group ExperimentGroup
	Since *time.Time
	// Last keeps only the most recent sessions when positive.
	Last int
}

var effortTypes = map[ExperimentGroup]EffortType{
	Group1: TimeBased,
	Group2: WorkBased,
	Group3: TimeBased,
	Group4: WorkBased,
}

// EffortTypeFor maps a cohort to its effort strategy. Unknown cohorts are a
// configuration error.
func EffortTypeFor(group ExperimentGroup) (EffortType, error) {
	t, ok := effortTypes[group]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownExperimentGroup, group)
	}
	return t, nil
}

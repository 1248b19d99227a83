package replay

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/puzzle"
)

func history(phases ...model.Phase) []model.PhaseEntry {
	out := make([]model.PhaseEntry, 0, len(phases))
	for i, p := range phases {
		out = append(out, model.PhaseEntry{Name: p, Time: time.Unix(int64(i), 0)})
	}
	return out
}

func TestReconstructWorkBasedCompleted(t *testing.T) {
	state := model.SkillsRankingSessionState{
		SessionID:       7,
		ExperimentGroup: model.Group2,
		PhaseHistory:    history(model.PhaseBriefing, model.PhaseProofOfValue, model.PhaseMarketDisclosure),
		ProofOfValue:    model.ProofOfValueResult{SucceededAfter: "4200ms", PuzzlesSolved: 1, CorrectRotations: 2, ClicksCount: 6},
	}
	snap, err := Reconstruct(state, puzzle.Config{StringPool: []string{"AB"}, Puzzles: 1})
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if snap.Outcome != OutcomeCompleted || snap.Message != puzzle.MessageAllComplete {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Puzzle == nil || snap.Puzzle.Interactive || snap.Puzzle.CanRotate {
		t.Fatalf("expected disabled puzzle view, got %+v", snap.Puzzle)
	}
	if snap.Puzzle.Counters.Clicks != 6 || snap.Puzzle.Counters.TotalCorrect != 2 {
		t.Fatalf("expected persisted counters, got %+v", snap.Puzzle.Counters)
	}
}

func TestReconstructTimeBasedCancelled(t *testing.T) {
	state := model.SkillsRankingSessionState{
		ExperimentGroup: model.Group1,
		PhaseHistory:    history(model.PhaseProofOfValue, model.PhaseJobSeekerDisclosure),
		ProofOfValue:    model.ProofOfValueResult{CancelledAfter: "3s"},
	}
	snap, err := Reconstruct(state, puzzle.Config{StringPool: []string{"AB"}})
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if snap.Outcome != OutcomeCancelled || snap.Puzzle != nil || snap.Message != MessageCancelled {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestReconstructRejectsLiveSession(t *testing.T) {
	state := model.SkillsRankingSessionState{
		ExperimentGroup: model.Group2,
		PhaseHistory:    history(model.PhaseBriefing, model.PhaseProofOfValue),
	}
	if _, err := Reconstruct(state, puzzle.Config{StringPool: []string{"AB"}}); !errors.Is(err, ErrLiveSession) {
		t.Fatalf("expected ErrLiveSession, got %v", err)
	}
}

func TestReconstructUnknownGroup(t *testing.T) {
	state := model.SkillsRankingSessionState{ExperimentGroup: "nope"}
	if _, err := Reconstruct(state, puzzle.Config{StringPool: []string{"AB"}}); !errors.Is(err, model.ErrUnknownExperimentGroup) {
		t.Fatalf("expected ErrUnknownExperimentGroup, got %v", err)
	}
}

func TestReconstructWorkBasedCancelled(t *testing.T) {
	state := model.SkillsRankingSessionState{
		SessionID:       9,
		ExperimentGroup: model.Group2,
		PhaseHistory:    history(model.PhaseProofOfValue, model.PhaseMarketDisclosure),
		ProofOfValue:    model.ProofOfValueResult{CancelledAfter: "3s", PuzzlesSolved: 1, CorrectRotations: 3, ClicksCount: 9},
	}
	cfg := puzzle.Config{StringPool: []string{"AB", "CD E"}, Puzzles: 2, RotationStep: 10, Tolerance: 30}

	first, err := Reconstruct(state, cfg)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	second, err := Reconstruct(state, cfg)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("reconstruction is not stable (-first +second):\n%s", diff)
	}

	if first.Outcome != OutcomeCancelled || first.Message != MessageCancelled {
		t.Fatalf("unexpected snapshot %+v", first)
	}
	view := first.Puzzle
	if view == nil || view.Interactive || view.CanRotate {
		t.Fatalf("expected disabled puzzle view, got %+v", view)
	}
	want := []model.CharacterState{{Char: 'C'}, {Char: 'D'}, {Char: ' '}, {Char: 'E'}}
	if diff := cmp.Diff(want, view.Chars); diff != "" {
		t.Fatalf("expected the stopped puzzle frozen upright (-want +got):\n%s", diff)
	}
	if view.Counters.PuzzleIndex != 1 || view.Counters.TotalCorrect != 3 || view.Counters.Clicks != 9 {
		t.Fatalf("expected persisted counters, got %+v", view.Counters)
	}
}

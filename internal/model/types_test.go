package model

import (
	"errors"
	"testing"
	"time"
)

func TestEffortTypeForIsTotal(t *testing.T) {
	for _, g := range ExperimentGroups {
		typ, err := EffortTypeFor(g)
		if err != nil {
			t.Fatalf("group %s: %v", g, err)
		}
		if typ != TimeBased && typ != WorkBased {
			t.Fatalf("group %s mapped to %q", g, typ)
		}
	}
	if _, err := EffortTypeFor("GROUP_9"); !errors.Is(err, ErrUnknownExperimentGroup) {
		t.Fatalf("expected ErrUnknownExperimentGroup, got %v", err)
	}
}

func TestParseExperimentGroup(t *testing.T) {
	g, err := ParseExperimentGroup("GROUP_2")
	if err != nil || g != Group2 {
		t.Fatalf("unexpected parse result %q %v", g, err)
	}
	if _, err := ParseExperimentGroup("group_2"); !errors.Is(err, ErrUnknownExperimentGroup) {
		t.Fatalf("expected error for lower-case cohort")
	}
}

func TestReplayDetection(t *testing.T) {
	at := time.Unix(0, 0)
	live := SkillsRankingSessionState{PhaseHistory: []PhaseEntry{
		{Name: PhaseBriefing, Time: at},
		{Name: PhaseProofOfValue, Time: at},
	}}
	if live.IsReplay() || live.IsReplayFinished() {
		t.Fatalf("live session detected as replay")
	}
	done := live
	done.PhaseHistory = append(append([]PhaseEntry(nil), live.PhaseHistory...), PhaseEntry{Name: PhaseMarketDisclosure, Time: at})
	if !done.IsReplay() || !done.IsReplayFinished() {
		t.Fatalf("finished session not detected as replay")
	}
	early := SkillsRankingSessionState{PhaseHistory: []PhaseEntry{{Name: PhaseBriefing, Time: at}}}
	if !early.IsReplay() || early.IsReplayFinished() {
		t.Fatalf("unexpected replay flags for early session")
	}
}

func TestPhaseOrder(t *testing.T) {
	if PhaseProofOfValue.Index() >= PhaseMarketDisclosure.Index() {
		t.Fatalf("proof of value must precede market disclosure")
	}
	if Phase("NOPE").Index() != -1 {
		t.Fatalf("unknown phase must have no index")
	}
	if _, err := ParsePhase("NOPE"); !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
	if p, err := ParsePhase("COMPLETED"); err != nil || p != PhaseCompleted {
		t.Fatalf("unexpected parse result %q %v", p, err)
	}
}

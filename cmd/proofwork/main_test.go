package main

import (
	"errors"
	"testing"

	"github.com/verte-zerg/proofwork/internal/model"
)

func TestSkipPolicy(t *testing.T) {
	policy, err := skipPolicy([]string{"GROUP_2", " ", "GROUP_4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !policy.ShouldSkipMarketDisclosure(model.SkillsRankingSessionState{ExperimentGroup: model.Group4}) {
		t.Fatalf("expected GROUP_4 to skip market disclosure")
	}
	if policy.ShouldSkipMarketDisclosure(model.SkillsRankingSessionState{ExperimentGroup: model.Group1}) {
		t.Fatalf("expected GROUP_1 to see market disclosure")
	}
	if _, err := skipPolicy([]string{"GROUP_9"}); !errors.Is(err, model.ErrUnknownExperimentGroup) {
		t.Fatalf("expected unknown group error, got %v", err)
	}
}

func TestConfigFileOverriddenByChangedFlag(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--puzzles", "4"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	fromFile := 7
	applyIntConfig(cmd, "puzzles", &puzzleCount, &fromFile)
	if puzzleCount != 4 {
		t.Fatalf("expected flag value 4, got %d", puzzleCount)
	}
	applyIntConfig(cmd, "tolerance", &puzzleTolerance, &fromFile)
	if puzzleTolerance != 7 {
		t.Fatalf("expected config value 7, got %d", puzzleTolerance)
	}
}

func TestValidatePuzzleFlags(t *testing.T) {
	puzzleCount, puzzleStep, puzzleTolerance, puzzleFeedbackMs = 2, 45, 10, 0
	if err := validatePuzzleFlags(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	puzzleStep = 360
	if err := validatePuzzleFlags(); err == nil {
		t.Fatalf("expected rotation step error")
	}
	puzzleStep = 45
	puzzleCount = 0
	if err := validatePuzzleFlags(); err == nil {
		t.Fatalf("expected puzzles error")
	}
}

package stats

import (
	"testing"
	"time"

	"github.com/verte-zerg/proofwork/internal/model"
)

func TestParseEffortDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1250ms": 1250 * time.Millisecond,
		"4s":     4 * time.Second,
		"0s":     0,
	}
	for raw, want := range cases {
		got, err := ParseEffortDuration(raw)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", raw, got, err)
		}
	}
	for _, raw := range []string{"", "4", "-2s", "fast"} {
		if _, err := ParseEffortDuration(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSummarizeCounts(t *testing.T) {
	sessions := []model.StoredSession{
		{ExperimentGroup: model.Group1, ProofOfValue: model.ProofOfValueResult{CancelledAfter: "2s"}},
		{ExperimentGroup: model.Group1, ProofOfValue: model.ProofOfValueResult{CancelledAfter: "4s"}},
		{ExperimentGroup: model.Group2, ProofOfValue: model.ProofOfValueResult{SucceededAfter: "900ms", ClicksCount: 8, PuzzlesSolved: 2}},
		{ExperimentGroup: model.Group4},
	}
	sum := Summarize(sessions)
	if sum.Cancelled != 2 || sum.Completed != 1 || sum.Pending != 1 {
		t.Fatalf("unexpected counts %+v", sum)
	}
	if sum.AvgCancelled != 3*time.Second || sum.AvgSucceeded != 900*time.Millisecond {
		t.Fatalf("unexpected averages %+v", sum)
	}
	if sum.ByEffortType[model.TimeBased] != 2 || sum.ByEffortType[model.WorkBased] != 2 {
		t.Fatalf("unexpected effort types %+v", sum.ByEffortType)
	}
	if sum.CompletionPct < 33.3 || sum.CompletionPct > 33.4 {
		t.Fatalf("unexpected completion %.2f", sum.CompletionPct)
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline([]float64{1, 1, 1}); got != "+++" {
		t.Fatalf("unexpected flat sparkline %q", got)
	}
	if got := Sparkline([]float64{0, 10}); got != " @" {
		t.Fatalf("unexpected sparkline %q", got)
	}
}

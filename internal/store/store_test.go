package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/verte-zerg/proofwork/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "proofwork.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func intPtr(v int) *int { return &v }

func TestCreateSessionStartsAtProofOfValue(t *testing.T) {
	st := openTestStore(t)
	st.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	state, err := st.CreateSession(context.Background(), model.Group2, 0.4)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if state.SessionID == 0 || state.ExperimentGroup != model.Group2 || state.Score != 0.4 {
		t.Fatalf("unexpected session %+v", state)
	}
	if state.LastPhase() != model.PhaseProofOfValue || len(state.PhaseHistory) != 2 {
		t.Fatalf("unexpected phase history %+v", state.PhaseHistory)
	}
	if !state.PhaseHistory[0].Time.Equal(st.now()) {
		t.Fatalf("unexpected phase time %v", state.PhaseHistory[0].Time)
	}
	if state.IsReplay() {
		t.Fatalf("new session must be live")
	}
}

func TestCreateSessionRejectsUnknownGroup(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.CreateSession(context.Background(), "GROUP_0", 0); !errors.Is(err, model.ErrUnknownExperimentGroup) {
		t.Fatalf("expected ErrUnknownExperimentGroup, got %v", err)
	}
}

func TestUpdateStateStoresProofOfValue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	state, err := st.CreateSession(ctx, model.Group4, 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	updated, err := st.UpdateSkillsRankingState(ctx, model.StateUpdate{
		SessionID: state.SessionID,
		NextPhase: model.PhaseMarketDisclosure,
		Metrics: model.ProofOfValueMetrics{
			SucceededAfter:   "4200ms",
			PuzzlesSolved:    intPtr(2),
			CorrectRotations: intPtr(5),
			ClicksCount:      intPtr(14),
		},
	})
	if err != nil {
		t.Fatalf("update state: %v", err)
	}
	if updated.LastPhase() != model.PhaseMarketDisclosure {
		t.Fatalf("expected market disclosure, got %s", updated.LastPhase())
	}
	want := model.ProofOfValueResult{SucceededAfter: "4200ms", PuzzlesSolved: 2, CorrectRotations: 5, ClicksCount: 14}
	if updated.ProofOfValue != want {
		t.Fatalf("unexpected proof of value %+v", updated.ProofOfValue)
	}
	if !updated.IsReplay() || !updated.IsReplayFinished() {
		t.Fatalf("finished session must replay")
	}

	// A second proof of value after the phase moved on is rejected.
	_, err = st.UpdateSkillsRankingState(ctx, model.StateUpdate{
		SessionID:      state.SessionID,
		NextPhase:      model.PhasePerceivedRank,
		CancelledAfter: "3s",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	percentile := 62.5
	ranked, err := st.UpdateSkillsRankingState(ctx, model.StateUpdate{
		SessionID:           state.SessionID,
		NextPhase:           model.PhasePerceivedRank,
		PerceivedPercentile: &percentile,
	})
	if err != nil {
		t.Fatalf("update percentile: %v", err)
	}
	if ranked.PerceivedPercentile == nil || *ranked.PerceivedPercentile != percentile {
		t.Fatalf("expected perceived percentile, got %+v", ranked.PerceivedPercentile)
	}
	if len(ranked.PhaseHistory) != 4 {
		t.Fatalf("expected 4 phases, got %+v", ranked.PhaseHistory)
	}
}

func TestUpdateStateRejectsBackwardsAndUnknown(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	state, err := st.CreateSession(ctx, model.Group1, 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, next := range []model.Phase{model.PhaseBriefing, model.PhaseProofOfValue, "LATER"} {
		if _, err := st.UpdateSkillsRankingState(ctx, model.StateUpdate{SessionID: state.SessionID, NextPhase: next}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("phase %s: expected ErrInvalidTransition, got %v", next, err)
		}
	}
	if _, err := st.UpdateSkillsRankingState(ctx, model.StateUpdate{SessionID: 999, NextPhase: model.PhaseCompleted}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	got, err := st.GetSession(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.LastPhase() != model.PhaseProofOfValue {
		t.Fatalf("rejected updates must not change the phase, got %s", got.LastPhase())
	}
}

func TestUpdateMetricsAndList(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []int64
	for i, group := range []model.ExperimentGroup{model.Group1, model.Group2, model.Group2} {
		at := base.Add(time.Duration(i) * time.Hour)
		st.now = func() time.Time { return at }
		state, err := st.CreateSession(ctx, group, 0)
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		ids = append(ids, state.SessionID)
	}

	report := model.EffortMetricsReport{PuzzlesSolved: 1, CorrectRotations: 3, ClicksCount: 9, TimeSpentMs: 2500}
	if err := st.UpdateMetrics(ctx, ids[1], model.EffortMetricsReport{ClicksCount: 1}); err != nil {
		t.Fatalf("update metrics: %v", err)
	}
	if err := st.UpdateMetrics(ctx, ids[1], report); err != nil {
		t.Fatalf("update metrics: %v", err)
	}
	if err := st.UpdateMetrics(ctx, 404, report); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	all, err := st.ListSessions(ctx, model.SessionFilter{})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != ids[0] || all[2].SessionID != ids[2] {
		t.Fatalf("unexpected sessions %+v", all)
	}
	if all[1].LastReport == nil || *all[1].LastReport != report {
		t.Fatalf("expected latest report, got %+v", all[1].LastReport)
	}
	if all[0].LastReport != nil || all[0].LastPhase != model.PhaseProofOfValue {
		t.Fatalf("unexpected first session %+v", all[0])
	}

	since := base.Add(90 * time.Minute)
	filtered, err := st.ListSessions(ctx, model.SessionFilter{Group: model.Group2, Since: &since})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SessionID != ids[2] {
		t.Fatalf("unexpected filtered sessions %+v", filtered)
	}
}

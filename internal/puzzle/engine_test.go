package puzzle

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/verte-zerg/proofwork/internal/generator"
	"github.com/verte-zerg/proofwork/internal/model"
)

// farthestSource picks the largest displacement, so every glyph needs
// exactly two clockwise steps.
type farthestSource struct{}

func (farthestSource) Intn(n int) int { return n - 1 }

// recorder mirrors what a host does with engine effects.
type recorder struct {
	reports   []Report
	scheduled []Schedule
	success   int
}

func (r *recorder) apply(effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case Report:
			r.reports = append(r.reports, e)
		case Schedule:
			r.scheduled = append(r.scheduled, e)
		case Success:
			r.success++
		}
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg, generator.NewWithSource(farthestSource{}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func solveChar(e *Engine, rec *recorder, now time.Time, idx int) time.Time {
	rec.apply(e.Select(now, idx))
	now = now.Add(300 * time.Millisecond)
	rec.apply(e.Rotate(now, 45))
	now = now.Add(300 * time.Millisecond)
	rec.apply(e.Rotate(now, 45))
	return now.Add(300 * time.Millisecond)
}

func TestSinglePuzzleCompletes(t *testing.T) {
	e := newTestEngine(t, Config{StringPool: []string{"AB"}, Puzzles: 1, RotationStep: 45, Tolerance: 45})
	rec := &recorder{}
	start := time.Unix(100, 0)
	now := solveChar(e, rec, start, 0)
	now = solveChar(e, rec, now, 1)

	if e.Phase() != PhaseAllComplete {
		t.Fatalf("expected all-complete, got %s", e.Phase())
	}
	if got := e.View().Message; got != MessageAllComplete {
		t.Fatalf("unexpected message %q", got)
	}
	if rec.success != 0 {
		t.Fatalf("success must wait for the feedback delay")
	}
	if len(rec.scheduled) != 1 || rec.scheduled[0].Delay != DefaultFeedbackDelay {
		t.Fatalf("expected one feedback timer, got %+v", rec.scheduled)
	}

	intermediate := 0
	var final *Report
	for i := range rec.reports {
		if rec.reports[i].Kind == ReportFinal {
			final = &rec.reports[i]
			continue
		}
		intermediate++
	}
	if intermediate < 4 {
		t.Fatalf("expected at least 4 intermediate reports, got %d", intermediate)
	}
	if final == nil {
		t.Fatalf("expected a final report")
	}
	lastRotate := now.Add(-300 * time.Millisecond)
	if final.Report.TimeSpentMs != lastRotate.Sub(start).Milliseconds() {
		t.Fatalf("unexpected time spent %d", final.Report.TimeSpentMs)
	}
	if final.Report.PuzzlesSolved != 1 || final.Report.CorrectRotations != 2 || final.Report.ClicksCount != 6 {
		t.Fatalf("unexpected final report %+v", final.Report)
	}

	rec.apply(e.TimerFired(now.Add(DefaultFeedbackDelay), TimerFeedback))
	rec.apply(e.TimerFired(now.Add(2*DefaultFeedbackDelay), TimerFeedback))
	if rec.success != 1 {
		t.Fatalf("expected exactly one success, got %d", rec.success)
	}
}

func TestTwoPuzzlesRollOver(t *testing.T) {
	e := newTestEngine(t, Config{StringPool: []string{"AB", "CD"}, Puzzles: 2, RotationStep: 45, Tolerance: 45})
	rec := &recorder{}
	now := time.Unix(0, 0)
	now = solveChar(e, rec, now, 0)
	now = solveChar(e, rec, now, 1)

	if e.Phase() != PhasePuzzleComplete {
		t.Fatalf("expected puzzle-complete, got %s", e.Phase())
	}
	if got := e.View().Message; got != MessagePuzzleComplete {
		t.Fatalf("unexpected message %q", got)
	}
	if effects := e.Select(now, 0); effects != nil {
		t.Fatalf("selection must be ignored while showing feedback")
	}

	rec.apply(e.TimerFired(now.Add(DefaultFeedbackDelay), TimerFeedback))
	view := e.View()
	if view.Phase != PhaseIdle || string([]rune{view.Chars[0].Char, view.Chars[1].Char}) != "CD" {
		t.Fatalf("expected second puzzle, got %+v", view)
	}
	if view.Counters.PuzzleIndex != 1 || view.Counters.TotalCorrect != 2 || view.Counters.CorrectInCurrent != 0 {
		t.Fatalf("unexpected counters after roll: %+v", view.Counters)
	}
	if rec.success != 0 {
		t.Fatalf("no success expected after first puzzle")
	}

	now = now.Add(DefaultFeedbackDelay)
	now = solveChar(e, rec, now, 0)
	now = solveChar(e, rec, now, 1)
	if e.View().Message != MessageAllComplete {
		t.Fatalf("expected final completion message")
	}
	last := rec.reports[len(rec.reports)-1]
	if last.Kind != ReportFinal || last.Report.PuzzlesSolved != 2 || last.Report.CorrectRotations != 4 {
		t.Fatalf("unexpected final report %+v", last)
	}
	rec.apply(e.TimerFired(now.Add(DefaultFeedbackDelay), TimerFeedback))
	if rec.success != 1 {
		t.Fatalf("expected a single success, got %d", rec.success)
	}
}

func TestDisabledAndReplayIgnoreInput(t *testing.T) {
	for _, cfg := range []Config{
		{StringPool: []string{"AB"}, Disabled: true},
		{StringPool: []string{"AB"}, IsReplay: true},
	} {
		e := newTestEngine(t, cfg)
		now := time.Unix(0, 0)
		if effects := e.Select(now, 0); len(effects) != 0 {
			t.Fatalf("expected no effects, got %+v", effects)
		}
		if effects := e.Rotate(now, 45); len(effects) != 0 {
			t.Fatalf("expected no effects, got %+v", effects)
		}
		view := e.View()
		if view.Interactive || view.CanRotate {
			t.Fatalf("controls must be disabled: %+v", view)
		}
		if view.Counters.Clicks != 0 {
			t.Fatalf("clicks must not change")
		}
	}
}

func TestFinishedReplayStartsComplete(t *testing.T) {
	e := newTestEngine(t, Config{
		StringPool:       []string{"AB", "CD"},
		Puzzles:          2,
		IsReplay:         true,
		IsReplayFinished: true,
		ReplayReport:     &model.EffortMetricsReport{PuzzlesSolved: 2, CorrectRotations: 4, ClicksCount: 12},
	})
	view := e.View()
	if view.Phase != PhaseAllComplete || view.Message != MessageAllComplete {
		t.Fatalf("expected completed replay, got %+v", view)
	}
	if view.CanRotate || view.Interactive {
		t.Fatalf("replay controls must be disabled")
	}
	for i, cs := range view.Chars {
		if !view.Solved[i] || !cs.Checked {
			t.Fatalf("expected aligned glyphs, got %+v", view.Chars)
		}
	}
	if view.Chars[0].Char != 'C' {
		t.Fatalf("expected last puzzle text, got %q", view.Chars[0].Char)
	}
	if effects := e.TimerFired(time.Unix(10, 0), TimerFeedback); effects != nil {
		t.Fatalf("replay has no timers, got %+v", effects)
	}
}

func TestSpacesAreInert(t *testing.T) {
	e := newTestEngine(t, Config{StringPool: []string{"A B"}, Puzzles: 1, RotationStep: 45, Tolerance: 45})
	now := time.Unix(0, 0)
	if effects := e.Select(now, 1); effects != nil {
		t.Fatalf("space must not be selectable")
	}
	rec := &recorder{}
	now = solveChar(e, rec, now, 0)
	if e.Phase() == PhaseAllComplete {
		t.Fatalf("puzzle must not complete with an unsolved glyph")
	}
	solveChar(e, rec, now, 2)
	if e.Phase() != PhaseAllComplete {
		t.Fatalf("expected completion ignoring the space, got %s", e.Phase())
	}
}

func TestRotateRequiresSelection(t *testing.T) {
	e := newTestEngine(t, Config{StringPool: []string{"AB"}})
	if effects := e.Rotate(time.Unix(0, 0), 45); effects != nil {
		t.Fatalf("rotate without selection must be a no-op")
	}
}

func TestHaltDisarmsFeedback(t *testing.T) {
	e := newTestEngine(t, Config{StringPool: []string{"A"}, Puzzles: 1, RotationStep: 45, Tolerance: 45})
	rec := &recorder{}
	now := solveChar(e, rec, time.Unix(0, 0), 0)
	effects := e.Halt()
	if len(effects) != 1 {
		t.Fatalf("expected unschedule effect, got %+v", effects)
	}
	if _, ok := effects[0].(Unschedule); !ok {
		t.Fatalf("expected unschedule, got %T", effects[0])
	}
	if effects := e.TimerFired(now.Add(DefaultFeedbackDelay), TimerFeedback); effects != nil {
		t.Fatalf("halted engine must ignore late timers")
	}
}

func TestCountersMonotonic(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	e, err := New(Config{StringPool: []string{"HELLO WORLD", "GO"}, Puzzles: 50, RotationStep: 45, Tolerance: 10}, generator.NewSeeded(3))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	now := time.Unix(0, 0)
	prev := e.Counters()
	for i := 0; i < 2000; i++ {
		now = now.Add(50 * time.Millisecond)
		switch rnd.Intn(3) {
		case 0:
			e.Select(now, rnd.Intn(11))
		case 1:
			e.Rotate(now, []int{45, -45}[rnd.Intn(2)])
		default:
			e.TimerFired(now, TimerFeedback)
		}
		cur := e.Counters()
		if cur.Clicks < prev.Clicks || cur.TotalCorrect < prev.TotalCorrect || cur.PuzzleIndex < prev.PuzzleIndex {
			t.Fatalf("counters decreased: %+v -> %+v", prev, cur)
		}
		prev = cur
	}
}

func TestNewRejectsEmptyPool(t *testing.T) {
	if _, err := New(Config{}, generator.NewSeeded(1)); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
	if _, err := New(Config{StringPool: []string{"  "}}, generator.NewSeeded(1)); !errors.Is(err, ErrInvalidPool) {
		t.Fatalf("expected ErrInvalidPool, got %v", err)
	}
}

func TestNewRequiresGeneratorForLivePuzzle(t *testing.T) {
	if _, err := New(Config{StringPool: []string{"AB"}}, nil); !errors.Is(err, ErrNoChallenger) {
		t.Fatalf("expected ErrNoChallenger, got %v", err)
	}
}

func TestStoppedReplayIgnoresGenerator(t *testing.T) {
	e, err := New(Config{
		StringPool:   []string{"AB", "CD"},
		IsReplay:     true,
		ReplayReport: &model.EffortMetricsReport{PuzzlesSolved: 1, CorrectRotations: 1, ClicksCount: 4},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view := e.View()
	if view.Phase != PhaseIdle || view.Interactive {
		t.Fatalf("expected an inert idle replay, got %+v", view)
	}
	if len(view.Chars) != 2 || view.Chars[0].Char != 'C' || view.Chars[0].Angle != 0 || view.Chars[0].Touched {
		t.Fatalf("expected second puzzle text untouched, got %+v", view.Chars)
	}
	if view.Counters.Clicks != 4 || view.Counters.PuzzleIndex != 1 {
		t.Fatalf("expected persisted counters, got %+v", view.Counters)
	}
}

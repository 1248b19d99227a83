package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/proofwork/internal/effort"
	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/puzzle"
	"github.com/verte-zerg/proofwork/internal/replay"
)

type fakeRunner struct {
	view    effort.View
	selects []int
	rotates []int
	cancels int
	retries int
}

func (f *fakeRunner) Select(index int) { f.selects = append(f.selects, index) }
func (f *fakeRunner) Rotate(delta int) { f.rotates = append(f.rotates, delta) }
func (f *fakeRunner) Cancel()          { f.cancels++ }
func (f *fakeRunner) Retry()           { f.retries++ }
func (f *fakeRunner) View() effort.View {
	return f.view
}

func workView(canRotate bool) effort.View {
	return effort.View{
		EffortType:  model.WorkBased,
		Status:      effort.StatusWorkWaiting,
		Cancellable: true,
		Puzzle: &puzzle.View{
			Chars:       charsOf(" ab c", -90),
			Solved:      make([]bool, 5),
			Selected:    -1,
			Puzzles:     2,
			Interactive: true,
			CanRotate:   canRotate,
			Step:        45,
			Counters:    model.PuzzleCounters{TotalCorrect: 1, CorrectInCurrent: 2, Clicks: 6},
		},
	}
}

func press(m *Model, keys ...tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		_, cmd = m.Update(k)
	}
	return cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModelCursorStartsOnFirstGlyph(t *testing.T) {
	m := NewModel(&fakeRunner{view: workView(false)}, nil)
	if m.cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", m.cursor)
	}
}

func TestModelSelectAndRotate(t *testing.T) {
	r := &fakeRunner{view: workView(false)}
	m := NewModel(r, nil)

	press(m, tea.KeyMsg{Type: tea.KeyRight}, tea.KeyMsg{Type: tea.KeyRight}, tea.KeyMsg{Type: tea.KeyEnter})
	if len(r.selects) != 1 || r.selects[0] != 4 {
		t.Fatalf("expected select of 4, got %v", r.selects)
	}
	press(m, runes("."))
	if len(r.rotates) != 0 {
		t.Fatalf("rotation should be disabled before a selection, got %v", r.rotates)
	}

	r.view = workView(true)
	m.refresh()
	press(m, runes("."), runes("a"), runes("d"))
	if got := r.rotates; len(got) != 3 || got[0] != 45 || got[1] != -45 || got[2] != 45 {
		t.Fatalf("unexpected rotations %v", got)
	}
	press(m, tea.KeyMsg{Type: tea.KeyLeft}, tea.KeyMsg{Type: tea.KeyLeft}, tea.KeyMsg{Type: tea.KeyLeft})
	if m.cursor != 1 {
		t.Fatalf("expected cursor clamped at 1, got %d", m.cursor)
	}
}

func TestModelCancelAndRetry(t *testing.T) {
	r := &fakeRunner{view: workView(false)}
	m := NewModel(r, nil)
	press(m, runes("r"))
	if r.retries != 0 {
		t.Fatalf("retry should be disabled without a pending finalize")
	}
	press(m, runes("c"))
	if r.cancels != 1 {
		t.Fatalf("expected one cancel, got %d", r.cancels)
	}

	r.view = effort.View{EffortType: model.TimeBased, Status: effort.StatusCancelled, CanRetry: true, Notice: effort.MessageFinalizeFailed}
	m.refresh()
	press(m, runes("c"), runes("r"))
	if r.cancels != 1 || r.retries != 1 {
		t.Fatalf("expected retry only, got cancels=%d retries=%d", r.cancels, r.retries)
	}
	out := m.View()
	if !strings.Contains(out, effort.MessageFinalizeFailed) {
		t.Fatalf("expected notice in view: %s", out)
	}
}

func TestModelQuit(t *testing.T) {
	m := NewModel(&fakeRunner{view: workView(false)}, nil)
	cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestModelChangedRefreshesView(t *testing.T) {
	r := &fakeRunner{view: workView(false)}
	n := NewNotifier()
	m := NewModel(r, n)
	r.view = effort.View{
		Status: effort.StatusDone,
		State: model.SkillsRankingSessionState{
			PhaseHistory: []model.PhaseEntry{{Name: model.PhaseProofOfValue}, {Name: model.PhaseMarketDisclosure}},
		},
	}
	n.Notify()
	n.Notify()
	_, cmd := m.Update(changedMsg{})
	if cmd == nil {
		t.Fatalf("expected the model to keep waiting for changes")
	}
	if !strings.Contains(m.View(), "Next step: MARKET_DISCLOSURE") {
		t.Fatalf("expected done message, got %s", m.View())
	}
	if _, ok := cmd().(changedMsg); !ok {
		t.Fatalf("expected the coalesced signal")
	}
}

func TestRenderFooterCounters(t *testing.T) {
	m := NewModel(&fakeRunner{view: workView(false)}, nil)
	out := m.renderFooter()
	for _, want := range []string{"Puzzle 1/2", "Correct 3", "Clicks 6", "select"} {
		if !strings.Contains(out, want) {
			t.Fatalf("footer missing %q: %s", want, out)
		}
	}
}

func TestRenderSnapshotCancelled(t *testing.T) {
	snap := replay.Snapshot{
		SessionID:  4,
		EffortType: model.WorkBased,
		Outcome:    replay.OutcomeCancelled,
		Message:    replay.MessageCancelled,
		Result:     model.ProofOfValueResult{CancelledAfter: "4s", ClicksCount: 3},
	}
	out := RenderSnapshot(snap, 0)
	for _, want := range []string{"Session 4", replay.MessageCancelled, "Cancelled after 4s", "Clicks 3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("snapshot missing %q: %s", want, out)
		}
	}
}

func TestRenderSnapshotNotReached(t *testing.T) {
	snap := replay.Snapshot{EffortType: model.TimeBased, Outcome: replay.OutcomeNotReached, Message: replay.MessageNotReached}
	out := RenderSnapshot(snap, 0)
	if strings.Contains(out, "after") {
		t.Fatalf("unexpected result line: %s", out)
	}
}

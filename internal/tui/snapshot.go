package tui

import (
	"fmt"
	"strings"

	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/replay"
)

// RenderSnapshot renders the terminal state of a past effort step. A width
// of zero disables wrapping.
func RenderSnapshot(snap replay.Snapshot, width int) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("Session %d · %s", snap.SessionID, snap.EffortType)),
		messageStyle.Render(snap.Message),
	}
	if snap.Puzzle != nil && snap.Outcome == replay.OutcomeCompleted {
		lines = append(lines, wrapGlyphs(buildGlyphs(*snap.Puzzle, -1), width))
	}
	if result := resultLine(snap.EffortType, snap.Result); result != "" && snap.Outcome != replay.OutcomeNotReached {
		lines = append(lines, footerStyle.Render(result))
	}
	return strings.Join(lines, "\n\n")
}

func resultLine(effortType model.EffortType, r model.ProofOfValueResult) string {
	segments := []string{}
	switch {
	case r.Cancelled():
		segments = append(segments, "Cancelled after "+r.CancelledAfter)
	case r.SucceededAfter != "":
		segments = append(segments, "Succeeded after "+r.SucceededAfter)
	}
	if effortType == model.WorkBased {
		segments = append(segments,
			fmt.Sprintf("Puzzles %d", r.PuzzlesSolved),
			fmt.Sprintf("Correct %d", r.CorrectRotations),
			fmt.Sprintf("Clicks %d", r.ClicksCount),
		)
	}
	return strings.Join(segments, "  ")
}

// Package stats summarizes stored effort outcomes.
package stats

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/verte-zerg/proofwork/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Outcome classifies a stored session.
type Outcome string

// Session outcomes.
const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// OutcomeOf reports how the effort step of s ended.
func OutcomeOf(s model.StoredSession) Outcome {
	switch {
	case s.ProofOfValue.Cancelled():
		return OutcomeCancelled
	case s.ProofOfValue.SucceededAfter != "":
		return OutcomeCompleted
	default:
		return OutcomePending
	}
}

// ParseEffortDuration parses the "<n>ms" and "<n>s" values stored for
// succeeded_after and cancelled_after.
func ParseEffortDuration(raw string) (time.Duration, error) {
	unit := time.Second
	num := raw
	switch {
	case strings.HasSuffix(raw, "ms"):
		unit = time.Millisecond
		num = strings.TrimSuffix(raw, "ms")
	case strings.HasSuffix(raw, "s"):
		num = strings.TrimSuffix(raw, "s")
	default:
		return 0, fmt.Errorf("invalid effort duration %q", raw)
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid effort duration %q", raw)
	}
	return time.Duration(n) * unit, nil
}

// EffortDuration returns the recorded effort time of s, if any.
func EffortDuration(s model.StoredSession) (time.Duration, bool) {
	raw := s.ProofOfValue.SucceededAfter
	if s.ProofOfValue.Cancelled() {
		raw = s.ProofOfValue.CancelledAfter
	}
	if raw == "" {
		return 0, false
	}
	d, err := ParseEffortDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Summary aggregates stored sessions.
type Summary struct {
	Sessions      int
	Completed     int
	Cancelled     int
	Pending       int
	ByEffortType  map[model.EffortType]int
	AvgSucceeded  time.Duration
	AvgCancelled  time.Duration
	AvgClicks     float64
	AvgPuzzles    float64
	CompletionPct float64
}

// Summarize computes the summary of sessions.
func Summarize(sessions []model.StoredSession) Summary {
	sum := Summary{Sessions: len(sessions), ByEffortType: map[model.EffortType]int{}}
	var succeeded, cancelled time.Duration
	var workBased, clicks, puzzles int
	for _, s := range sessions {
		if typ, err := model.EffortTypeFor(s.ExperimentGroup); err == nil {
			sum.ByEffortType[typ]++
		}
		d, hasDuration := EffortDuration(s)
		switch OutcomeOf(s) {
		case OutcomeCompleted:
			sum.Completed++
			if hasDuration {
				succeeded += d
			}
			if typ, _ := model.EffortTypeFor(s.ExperimentGroup); typ == model.WorkBased {
				workBased++
				clicks += s.ProofOfValue.ClicksCount
				puzzles += s.ProofOfValue.PuzzlesSolved
			}
		case OutcomeCancelled:
			sum.Cancelled++
			if hasDuration {
				cancelled += d
			}
		default:
			sum.Pending++
		}
	}
	if sum.Completed > 0 {
		sum.AvgSucceeded = succeeded / time.Duration(sum.Completed)
	}
	if sum.Cancelled > 0 {
		sum.AvgCancelled = cancelled / time.Duration(sum.Cancelled)
	}
	if workBased > 0 {
		sum.AvgClicks = float64(clicks) / float64(workBased)
		sum.AvgPuzzles = float64(puzzles) / float64(workBased)
	}
	if finished := sum.Completed + sum.Cancelled; finished > 0 {
		sum.CompletionPct = float64(sum.Completed) / float64(finished) * 100
	}
	return sum
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// RenderSummary prints a summary block for sessions.
func RenderSummary(w io.Writer, sessions []model.StoredSession) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	sum := Summarize(sessions)
	var trend []float64
	for _, s := range sessions {
		if d, ok := EffortDuration(s); ok {
			trend = append(trend, float64(d.Milliseconds()))
		}
	}
	lines := []string{
		"Summary",
		fmt.Sprintf("Sessions: %d (%d time-based, %d work-based)", sum.Sessions, sum.ByEffortType[model.TimeBased], sum.ByEffortType[model.WorkBased]),
		fmt.Sprintf("Completed: %d  Cancelled: %d  Pending: %d", sum.Completed, sum.Cancelled, sum.Pending),
		fmt.Sprintf("Completion: %.2f%%", sum.CompletionPct),
		fmt.Sprintf("Avg time to complete: %s", sum.AvgSucceeded.Round(time.Millisecond)),
		fmt.Sprintf("Avg time to cancel: %s", sum.AvgCancelled.Round(time.Second)),
		fmt.Sprintf("Avg clicks (work-based): %.1f", sum.AvgClicks),
		fmt.Sprintf("Avg puzzles (work-based): %.1f", sum.AvgPuzzles),
	}
	if len(trend) > 1 {
		lines = append(lines, fmt.Sprintf("Effort trend: %s", Sparkline(trend)))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderSessionTable prints one row per session.
func RenderSessionTable(w io.Writer, sessions []model.StoredSession) error {
	if len(sessions) == 0 {
		return nil
	}
	headers := []string{"ID", "Created", "Group", "Phase", "Outcome", "Effort", "Puzzles", "Clicks"}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		effort := "-"
		if d, ok := EffortDuration(s); ok {
			effort = d.String()
		}
		puzzles, clicks := s.ProofOfValue.PuzzlesSolved, s.ProofOfValue.ClicksCount
		if OutcomeOf(s) == OutcomePending && s.LastReport != nil {
			puzzles, clicks = s.LastReport.PuzzlesSolved, s.LastReport.ClicksCount
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.SessionID, 10),
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			string(s.ExperimentGroup),
			string(s.LastPhase),
			string(OutcomeOf(s)),
			effort,
			strconv.Itoa(puzzles),
			strconv.Itoa(clicks),
		})
	}
	rightAlign := map[int]bool{0: true, 5: true, 6: true, 7: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

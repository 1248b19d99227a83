// Package puzzle implements the rotate-letters effort puzzle as an explicit
// state machine. Mutators take the current time and return the effects the
// host has to perform; the engine never arms timers or sends reports itself.
package puzzle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verte-zerg/proofwork/internal/generator"
	"github.com/verte-zerg/proofwork/internal/model"
)

// Defaults for Config.
const (
	DefaultPuzzles       = 2
	DefaultRotationStep  = 45
	DefaultTolerance     = 10
	DefaultFeedbackDelay = 5 * time.Second
)

// Completion messages.
const (
	MessageAllComplete    = "All puzzles complete! Well done!"
	MessagePuzzleComplete = "Puzzle complete! Please solve another or cancel."
)

var (
	// ErrEmptyPool is returned when no puzzle strings are configured.
	ErrEmptyPool = errors.New("puzzle string pool is empty")
	// ErrInvalidPool is returned when a pool entry has nothing to rotate.
	ErrInvalidPool = errors.New("puzzle string has no rotatable characters")
	// ErrNoChallenger is returned when a live engine has no generator.
	ErrNoChallenger = errors.New("puzzle generator is required")
)

// Phase is the engine state.
type Phase int

// Engine phases.
const (
	PhaseIdle Phase = iota
	PhaseSelected
	PhasePuzzleComplete
	PhaseAllComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelected:
		return "selected"
	case PhasePuzzleComplete:
		return "puzzle-complete"
	case PhaseAllComplete:
		return "all-complete"
	default:
		return "unknown"
	}
}

// Config defines puzzle settings.
type Config struct {
	Puzzles       int
	RotationStep  int
	Tolerance     int
	StringPool    []string
	FeedbackDelay time.Duration

	Disabled         bool
	IsReplay         bool
	IsReplayFinished bool
	// ReplayReport seeds the counters shown by a finished replay.
	ReplayReport *model.EffortMetricsReport
}

// WithDefaults fills zero values with package defaults.
func (c Config) WithDefaults() Config {
	if c.Puzzles <= 0 {
		c.Puzzles = DefaultPuzzles
	}
	if c.RotationStep == 0 {
		c.RotationStep = DefaultRotationStep
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.FeedbackDelay <= 0 {
		c.FeedbackDelay = DefaultFeedbackDelay
	}
	return c
}

// Validate checks the string pool.
func (c Config) Validate() error {
	if len(c.StringPool) == 0 {
		return ErrEmptyPool
	}
	for i, s := range c.StringPool {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: entry %d", ErrInvalidPool, i)
		}
	}
	return nil
}

// Challenger generates the characters of a puzzle.
type Challenger interface {
	Challenge(puzzleIndex int, pool []string, step, tolerance int) []model.CharacterState
}

// Engine holds the state of one puzzle task.
type Engine struct {
	cfg Config
	gen Challenger

	chars    []model.CharacterState
	selected int
	phase    Phase
	counters model.PuzzleCounters
	message  string

	halted        bool
	feedbackArmed bool
}

// New constructs an engine and generates the first challenge. A replay of a
// finished task starts directly in the all-complete state; any other replay
// shows the puzzle it stopped on, upright and untouched. Replays never use
// gen, which may be nil for them.
func New(cfg Config, gen Challenger) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, gen: gen, selected: -1}
	switch {
	case cfg.IsReplay && cfg.IsReplayFinished:
		e.initFinishedReplay()
		return e, nil
	case cfg.IsReplay:
		e.initStoppedReplay()
		return e, nil
	case gen == nil:
		return nil, ErrNoChallenger
	}
	e.chars = gen.Challenge(0, cfg.StringPool, cfg.RotationStep, cfg.Tolerance)
	return e, nil
}

func (e *Engine) initStoppedReplay() {
	if r := e.cfg.ReplayReport; r != nil {
		e.counters.PuzzleIndex = max(r.PuzzlesSolved, 0)
		e.counters.TotalCorrect = r.CorrectRotations
		e.counters.Clicks = r.ClicksCount
	}
	text := e.cfg.StringPool[e.counters.PuzzleIndex%len(e.cfg.StringPool)]
	for _, r := range text {
		e.chars = append(e.chars, model.CharacterState{Char: r})
	}
}

func (e *Engine) initFinishedReplay() {
	solved := e.cfg.Puzzles
	if r := e.cfg.ReplayReport; r != nil {
		if r.PuzzlesSolved > 0 {
			solved = r.PuzzlesSolved
		}
		e.counters.TotalCorrect = r.CorrectRotations
		e.counters.Clicks = r.ClicksCount
	}
	e.counters.PuzzleIndex = solved
	text := e.cfg.StringPool[(solved-1)%len(e.cfg.StringPool)]
	for _, r := range text {
		cs := model.CharacterState{Char: r}
		if r != ' ' {
			cs.Touched = true
			cs.Checked = true
		}
		e.chars = append(e.chars, cs)
	}
	e.phase = PhaseAllComplete
	e.message = MessageAllComplete
}

func (e *Engine) interactive() bool {
	if e.cfg.Disabled || e.cfg.IsReplay || e.halted {
		return false
	}
	return e.phase == PhaseIdle || e.phase == PhaseSelected
}

// Select picks the character at index for rotation.
func (e *Engine) Select(now time.Time, index int) []Effect {
	if !e.interactive() {
		return nil
	}
	if index < 0 || index >= len(e.chars) || e.chars[index].IsSpace() {
		return nil
	}
	if e.counters.StartTime.IsZero() {
		e.counters.StartTime = now
	}
	e.selected = index
	e.phase = PhaseSelected
	e.counters.Clicks++
	return []Effect{Report{Kind: ReportSelect, Report: e.Metrics(now)}}
}

// Rotate turns the selected character by delta degrees.
func (e *Engine) Rotate(now time.Time, delta int) []Effect {
	if !e.interactive() || e.phase != PhaseSelected || e.selected < 0 {
		return nil
	}
	cs := &e.chars[e.selected]
	cs.Angle += delta
	cs.Touched = true
	cs.Checked = true
	e.counters.CorrectInCurrent = e.solvedCount()
	e.counters.Clicks++

	effects := []Effect{Report{Kind: ReportRotate, Report: e.Metrics(now)}}
	if e.puzzleSolved() {
		effects = append(effects, e.completePuzzle(now)...)
	}
	return effects
}

func (e *Engine) completePuzzle(now time.Time) []Effect {
	e.selected = -1
	solved := e.counters.PuzzleIndex + 1
	final := model.EffortMetricsReport{
		PuzzlesSolved:    solved,
		CorrectRotations: e.counters.TotalCorrect + e.counters.CorrectInCurrent,
		ClicksCount:      e.counters.Clicks,
		TimeSpentMs:      e.elapsedMs(now),
	}
	if solved >= e.cfg.Puzzles {
		e.phase = PhaseAllComplete
		e.message = MessageAllComplete
		e.rollCounters()
	} else {
		e.phase = PhasePuzzleComplete
		e.message = MessagePuzzleComplete
	}
	e.feedbackArmed = true
	return []Effect{
		Report{Kind: ReportFinal, Report: final},
		Schedule{Timer: TimerFeedback, Delay: e.cfg.FeedbackDelay},
	}
}

func (e *Engine) rollCounters() {
	e.counters.TotalCorrect += e.counters.CorrectInCurrent
	e.counters.CorrectInCurrent = 0
	e.counters.PuzzleIndex++
}

// TimerFired advances the engine once the feedback delay elapsed.
func (e *Engine) TimerFired(_ time.Time, id TimerID) []Effect {
	if id != TimerFeedback || !e.feedbackArmed || e.halted {
		return nil
	}
	e.feedbackArmed = false
	switch e.phase {
	case PhaseAllComplete:
		return []Effect{Success{}}
	case PhasePuzzleComplete:
		e.rollCounters()
		e.chars = e.gen.Challenge(e.counters.PuzzleIndex, e.cfg.StringPool, e.cfg.RotationStep, e.cfg.Tolerance)
		e.phase = PhaseIdle
		e.message = ""
	}
	return nil
}

// Halt freezes the engine, disarming a pending feedback timer.
func (e *Engine) Halt() []Effect {
	if e.halted {
		return nil
	}
	e.halted = true
	e.selected = -1
	if e.feedbackArmed {
		e.feedbackArmed = false
		return []Effect{Unschedule{Timer: TimerFeedback}}
	}
	return nil
}

// Metrics computes the current report without changing state.
func (e *Engine) Metrics(now time.Time) model.EffortMetricsReport {
	return model.EffortMetricsReport{
		PuzzlesSolved:    e.counters.PuzzleIndex,
		CorrectRotations: e.counters.TotalCorrect + e.counters.CorrectInCurrent,
		ClicksCount:      e.counters.Clicks,
		TimeSpentMs:      e.elapsedMs(now),
	}
}

// Started reports whether the user interacted with the puzzle.
func (e *Engine) Started() bool {
	return !e.counters.StartTime.IsZero()
}

func (e *Engine) elapsedMs(now time.Time) int64 {
	if e.counters.StartTime.IsZero() {
		return 0
	}
	return now.Sub(e.counters.StartTime).Milliseconds()
}

func (e *Engine) solvedCount() int {
	n := 0
	for _, cs := range e.chars {
		if !cs.IsSpace() && cs.Checked && generator.IsSolved(cs.Angle, e.cfg.Tolerance) {
			n++
		}
	}
	return n
}

func (e *Engine) puzzleSolved() bool {
	rotatable := 0
	for _, cs := range e.chars {
		if cs.IsSpace() {
			continue
		}
		rotatable++
		if !cs.Checked || !generator.IsSolved(cs.Angle, e.cfg.Tolerance) {
			return false
		}
	}
	return rotatable > 0
}

// Phase returns the current engine phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Counters returns a copy of the session counters.
func (e *Engine) Counters() model.PuzzleCounters {
	return e.counters
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// View is a read-only snapshot for renderers.
type View struct {
	Chars       []model.CharacterState
	Solved      []bool
	Selected    int
	Phase       Phase
	Message     string
	Counters    model.PuzzleCounters
	Puzzles     int
	Interactive bool
	CanRotate   bool
	Step        int
}

// View returns a snapshot of the engine state.
func (e *Engine) View() View {
	chars := make([]model.CharacterState, len(e.chars))
	copy(chars, e.chars)
	solved := make([]bool, len(chars))
	for i, cs := range chars {
		solved[i] = !cs.IsSpace() && generator.IsSolved(cs.Angle, e.cfg.Tolerance)
	}
	interactive := e.interactive()
	return View{
		Chars:       chars,
		Solved:      solved,
		Selected:    e.selected,
		Phase:       e.phase,
		Message:     e.message,
		Counters:    e.counters,
		Puzzles:     e.cfg.Puzzles,
		Interactive: interactive,
		CanRotate:   interactive && e.selected >= 0,
		Step:        e.cfg.RotationStep,
	}
}

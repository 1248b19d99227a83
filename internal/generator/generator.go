// Package generator builds puzzle challenges.
package generator

import (
	"math/rand"
	"time"

	"github.com/verte-zerg/proofwork/internal/model"
)

// minSteps is the counter-clockwise displacement every glyph starts with.
const minSteps = 2

// Source is the randomness used to pick starting angles.
type Source interface {
	Intn(n int) int
}

// Generator produces randomized puzzle challenges.
type Generator struct {
	rnd Source
}

// New returns a Generator seeded with the current time.
func New() *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeeded returns a Generator with a fixed seed.
func NewSeeded(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// NewWithSource returns a Generator drawing from src.
func NewWithSource(src Source) *Generator {
	return &Generator{rnd: src}
}

// Challenge builds the character states for pool[puzzleIndex mod len(pool)].
// Each non-space rune starts at -k*step, never already solved, and two
// clockwise steps bring it back within tolerance. Returns nil for an empty pool.
func (g *Generator) Challenge(puzzleIndex int, pool []string, step, tolerance int) []model.CharacterState {
	if len(pool) == 0 {
		return nil
	}
	idx := puzzleIndex % len(pool)
	if idx < 0 {
		idx += len(pool)
	}
	runes := []rune(pool[idx])
	out := make([]model.CharacterState, 0, len(runes))
	for _, r := range runes {
		cs := model.CharacterState{Char: r}
		if r != ' ' {
			cs.Angle = g.startAngle(step, tolerance)
		}
		out = append(out, cs)
	}
	return out
}

func (g *Generator) startAngle(step, tolerance int) int {
	if step <= 0 {
		step = 1
	}
	extra := tolerance / step
	candidates := make([]int, 0, extra+1)
	for k := minSteps; k <= minSteps+extra; k++ {
		angle := -k * step
		if angle%360 == 0 || IsSolved(angle, tolerance) {
			continue
		}
		candidates = append(candidates, angle)
	}
	if len(candidates) > 0 {
		return candidates[g.rnd.Intn(len(candidates))]
	}
	// Step is small relative to tolerance; walk out until the glyph is visibly off.
	for k := minSteps; k*step < 360; k++ {
		if angle := -k * step; !IsSolved(angle, tolerance) {
			return angle
		}
	}
	return -minSteps * step
}

// IsSolved reports whether angle, folded into [0, 180], is within tolerance of 0.
func IsSolved(angle, tolerance int) bool {
	m := angle % 360
	if m < 0 {
		m += 360
	}
	if m > 180 {
		m = 360 - m
	}
	return m <= tolerance
}

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/puzzle"
)

// Orientation arrows, clockwise from upright in 45 degree sectors.
var arrows = []rune("↑↗→↘↓↙←↖")

// arrowFor returns the direction the top of a glyph points to.
func arrowFor(angle int) rune {
	a := ((angle % 360) + 360) % 360
	return arrows[((a+22)/45)%len(arrows)]
}

type styledGlyph struct {
	s       string
	width   int
	isSpace bool
}

// buildGlyphs styles every character of the puzzle. A glyph cell is the
// character followed by its orientation arrow.
func buildGlyphs(view puzzle.View, cursor int) []styledGlyph {
	out := make([]styledGlyph, 0, len(view.Chars))
	for i, cs := range view.Chars {
		if cs.IsSpace() {
			out = append(out, styledGlyph{s: "  ", width: 2, isSpace: true})
			continue
		}
		style := glyphStyle(view, i, cs)
		if view.Interactive && i == cursor {
			style = style.Underline(true)
		}
		cell := string(cs.Char) + string(arrowFor(cs.Angle))
		out = append(out, styledGlyph{
			s:     style.Render(cell),
			width: runewidth.StringWidth(cell),
		})
	}
	return out
}

func glyphStyle(view puzzle.View, i int, cs model.CharacterState) lipgloss.Style {
	switch {
	case i == view.Selected:
		return selectedStyle
	case i < len(view.Solved) && view.Solved[i] && cs.Checked:
		return solvedStyle
	case cs.Touched:
		return touchedStyle
	default:
		return pendingStyle
	}
}

func renderGlyphs(glyphs []styledGlyph) string {
	var b strings.Builder
	for i, g := range glyphs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(g.s)
	}
	return b.String()
}

// wrapGlyphs breaks the puzzle at word gaps so no line exceeds width cells.
// Words longer than a line are split.
func wrapGlyphs(glyphs []styledGlyph, width int) string {
	if width <= 0 {
		return renderGlyphs(glyphs)
	}
	var out strings.Builder
	line := make([]styledGlyph, 0, len(glyphs))
	lineWidth := 0
	lastSpaceIdx := -1

	for i := 0; i < len(glyphs); {
		g := glyphs[i]
		if lineWidth+g.width+1 > width && len(line) > 0 {
			if lastSpaceIdx >= 0 {
				out.WriteString(renderGlyphs(line[:lastSpaceIdx]))
				out.WriteByte('\n')
				line = append([]styledGlyph{}, line[lastSpaceIdx+1:]...)
			} else {
				out.WriteString(renderGlyphs(line))
				out.WriteByte('\n')
				line = line[:0]
			}
			lineWidth = lineWidthOf(line)
			lastSpaceIdx = lastSpaceIndex(line)
			continue
		}
		line = append(line, g)
		lineWidth += g.width + 1
		if g.isSpace {
			lastSpaceIdx = len(line) - 1
		}
		i++
	}
	out.WriteString(renderGlyphs(line))
	return out.String()
}

func lineWidthOf(line []styledGlyph) int {
	total := 0
	for _, g := range line {
		total += g.width + 1
	}
	return total
}

func lastSpaceIndex(line []styledGlyph) int {
	for i := len(line) - 1; i >= 0; i-- {
		if line[i].isSpace {
			return i
		}
	}
	return -1
}

// nextGlyph returns the closest rotatable index from cursor in direction dir,
// or cursor when there is none.
func nextGlyph(chars []model.CharacterState, cursor, dir int) int {
	for i := cursor + dir; i >= 0 && i < len(chars); i += dir {
		if !chars[i].IsSpace() {
			return i
		}
	}
	return cursor
}

func firstGlyph(chars []model.CharacterState) int {
	for i, cs := range chars {
		if !cs.IsSpace() {
			return i
		}
	}
	return -1
}

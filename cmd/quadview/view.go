package main

import (
	"github.com/gdamore/tcell/v2"

	"quadsim/sim"
)

var (
	styleEmpty     = tcell.StyleDefault
	styleOccupied  = tcell.StyleDefault.Background(tcell.ColorNavy)
	styleMatched   = tcell.StyleDefault.Background(tcell.ColorOlive)
	styleCollapsed = tcell.StyleDefault.Background(tcell.ColorMaroon)
	styleStray     = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleQuery     = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleStatus    = tcell.StyleDefault.Reverse(true)
)

// viewport maps the simulation field onto a grid of terminal cells. The
// last row is kept for the status line.
type viewport struct {
	world      sim.Box
	cols, rows int
}

func newViewport(world sim.Box, cols, rows int) viewport {
	rows-- // status line
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return viewport{world: world, cols: cols, rows: rows}
}

// cell returns the cell showing world position (x, y).
func (v viewport) cell(x, y int) (int, int) {
	cx := (x - v.world.Left) * v.cols / v.world.Width
	cy := (y - v.world.Top) * v.rows / v.world.Height
	return cx, cy
}

// worldAt returns the world position at the top-left of cell (cx, cy).
func (v viewport) worldAt(cx, cy int) (int, int) {
	x := v.world.Left + cx*v.world.Width/v.cols
	y := v.world.Top + cy*v.world.Height/v.rows
	return x, y
}

// span returns the half-open cell range covering b, at least one cell wide
// and tall so tiny leaves stay visible.
func (v viewport) span(b sim.Box) (c0, r0, c1, r1 int) {
	c0, r0 = v.cell(b.Left, b.Top)
	c1, r1 = v.cell(b.Left+b.Width, b.Top+b.Height)
	if c1 <= c0 {
		c1 = c0 + 1
	}
	if r1 <= r0 {
		r1 = r0 + 1
	}
	return c0, r0, c1, r1
}

func (v viewport) inside(cx, cy int) bool {
	return cx >= 0 && cx < v.cols && cy >= 0 && cy < v.rows
}

func leafStyle(n sim.NodeView) tcell.Style {
	switch {
	case n.Matched:
		return styleMatched
	case n.Collapsed:
		return styleCollapsed
	case n.Population > 0:
		return styleOccupied
	default:
		return styleEmpty
	}
}

// draw renders snap: leaf fills, leaf edges, the query window, then points.
func draw(screen tcell.Screen, v viewport, snap sim.Snapshot, paused bool) {
	screen.Clear()

	set := func(cx, cy int, r rune, style tcell.Style) {
		if v.inside(cx, cy) {
			screen.SetContent(cx, cy, r, nil, style)
		}
	}

	for _, n := range snap.Nodes {
		if !n.Leaf {
			continue
		}
		style := leafStyle(n)
		c0, r0, c1, r1 := v.span(n.Box)
		for cy := r0; cy < r1; cy++ {
			for cx := c0; cx < c1; cx++ {
				r := ' '
				switch {
				case cx == c0 && cy == r0:
					r = '┌'
				case cy == r0:
					r = '─'
				case cx == c0:
					r = '│'
				}
				set(cx, cy, r, style.Foreground(tcell.ColorGray))
			}
		}
	}

	c0, r0, c1, r1 := v.span(snap.Query)
	for cx := c0; cx < c1; cx++ {
		set(cx, r0, '═', styleQuery)
		set(cx, r1-1, '═', styleQuery)
	}
	for cy := r0; cy < r1; cy++ {
		set(c0, cy, '║', styleQuery)
		set(c1-1, cy, '║', styleQuery)
	}

	for _, p := range snap.Points {
		cx, cy := v.cell(p.X, p.Y)
		if p.Stray {
			set(cx, cy, '∘', styleStray)
			continue
		}
		_, _, style, _ := screen.GetContent(cx, cy)
		set(cx, cy, '●', style.Foreground(tcell.ColorWhite).Bold(true))
	}

	status := statusLine(snap, paused)
	for i, r := range []rune(status) {
		if i >= v.cols {
			break
		}
		screen.SetContent(i, v.rows, r, nil, styleStatus)
	}
	for i := len([]rune(status)); i < v.cols; i++ {
		screen.SetContent(i, v.rows, ' ', nil, styleStatus)
	}

	screen.Show()
}

package tui

import (
	"fmt"
	"math"

	"github.com/argview/server/internal/coordinator"
	"github.com/argview/server/internal/layers"
	"github.com/argview/server/internal/lockview"
	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	v := m.sess.View()
	w, h := m.canvasSize()

	info := m.sess.Info()
	header := titleStyle.Render(fmt.Sprintf(" argview ─ %s ", info.Filename))
	if v != nil {
		header += dimStyle.Render(fmt.Sprintf(" %s-%s  %d trees",
			layers.FormatBP(v.Window.Start), layers.FormatBP(v.Window.End), len(v.Bins)))
		if v.Locked {
			header += "  " + lockedStyle.Render("LOCKED")
		}
	}

	var plot string
	if v != nil && m.frame != nil {
		plot = renderFrame(m.frame, v.Viewport, w, h).String()
	} else {
		plot = dimStyle.Render("waiting for layout…")
	}
	body := boxStyle.Width(w).Height(h).Render(plot)

	sections := []string{header, body}
	if m.showMutations {
		sections = append(sections, m.mutationsView())
	}
	if m.searching {
		sections = append(sections, "search: "+m.input.View())
	}

	status := dimStyle.Render(" " + m.status + " ")
	if e := m.sess.LastError(); e != "" {
		status = errStyle.Render(" " + e + " ")
	}
	sections = append(sections, status, m.help.View(m.keys))

	ui := lipgloss.JoinVertical(lipgloss.Left, sections...)
	return appStyle.Width(m.width).Render(ui)
}

func (m Model) mutationsView() string {
	st := m.sess.Mutations().State()
	title := fmt.Sprintf("mutations (%s): %d of %d", st.Mode, len(st.Mutations), st.TotalCount)
	if st.Loading {
		title += " …"
	}
	if st.HasMore {
		title += dimStyle.Render("  n: more")
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, m.table.View())
}

// renderFrame rasterizes the frame's edges, tips and mutations for the world
// rectangle visible in vp onto a w×h cell canvas.
func renderFrame(f *coordinator.Frame, vp lockview.Viewport, w, h int) *canvas {
	c := newCanvas(w, h)
	if f.Buffers == nil || !vp.Valid() {
		return c
	}
	minX, minY := vp.Unproject(0, 0)
	maxX, maxY := vp.Unproject(vp.Width, vp.Height)
	if maxX <= minX || maxY <= minY {
		return c
	}
	sx := float64(w*2) / (maxX - minX)
	sy := float64(h*4) / (maxY - minY)
	dot := func(x, y float32) (int, int) {
		return int(math.Floor((float64(x) - minX) * sx)), int(math.Floor((float64(y) - minY) * sy))
	}

	b := f.Buffers
	for i, start := range b.PathStartIndices {
		end := uint32(len(b.PathPositions) / 2)
		if i+1 < len(b.PathStartIndices) {
			end = b.PathStartIndices[i+1]
		}
		for v := start; v+1 < end; v++ {
			x0, y0 := dot(b.PathPositions[2*v], b.PathPositions[2*v+1])
			x1, y1 := dot(b.PathPositions[2*v+2], b.PathPositions[2*v+3])
			c.line(x0, y0, x1, y1)
		}
	}
	for i := 0; i+1 < len(b.TipPositions); i += 2 {
		c.set(dot(b.TipPositions[i], b.TipPositions[i+1]))
	}
	for i := 0; i+1 < len(b.MutPositions); i += 2 {
		x, y := dot(b.MutPositions[i], b.MutPositions[i+1])
		c.set(x, y)
		c.markCell(x, y)
	}
	return c
}

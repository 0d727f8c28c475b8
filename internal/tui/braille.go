package tui

import "strings"

// canvas is a braille raster: each terminal cell holds a 2x4 dot grid.
type canvas struct {
	w, h int       // in cells
	m    [][]uint8 // per-cell dot mask
	mark [][]bool  // cells highlighted as mutations
}

func newCanvas(w, h int) *canvas {
	m := make([][]uint8, h)
	mark := make([][]bool, h)
	for i := range m {
		m[i] = make([]uint8, w)
		mark[i] = make([]bool, w)
	}
	return &canvas{w: w, h: h, m: m, mark: mark}
}

var dotBits = [2][4]uint8{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

// set lights the dot at dot coordinates (2 per cell across, 4 down).
func (c *canvas) set(dx, dy int) {
	if dx < 0 || dy < 0 {
		return
	}
	cx, cy := dx/2, dy/4
	if cx >= c.w || cy >= c.h {
		return
	}
	c.m[cy][cx] |= dotBits[dx%2][dy%4]
}

func (c *canvas) markCell(dx, dy int) {
	if dx < 0 || dy < 0 || dx/2 >= c.w || dy/4 >= c.h {
		return
	}
	c.mark[dy/4][dx/2] = true
}

// line draws a dot line with Bresenham.
func (c *canvas) line(x0, y0, x1, y1 int) {
	// Far off-screen segments are clipped coarsely.
	if (x0 < 0 && x1 < 0) || (y0 < 0 && y1 < 0) ||
		(x0 >= c.w*2 && x1 >= c.w*2) || (y0 >= c.h*4 && y1 >= c.h*4) {
		return
	}
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		c.set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func (c *canvas) String() string {
	var sb strings.Builder
	for y := 0; y < c.h; y++ {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := 0; x < c.w; x++ {
			r := ' '
			if mask := c.m[y][x]; mask != 0 {
				r = rune(0x2800 + int(mask))
			}
			if c.mark[y][x] {
				sb.WriteString(mutStyle.Render(string(r)))
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package render

import (
	"bytes"
	"errors"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
)

// Bounds is a world-space rectangle [MinX, MinY, MaxX, MaxY].
type Bounds [4]float64

// PreviewConfig contains preview renderer configuration.
type PreviewConfig struct {
	Size int
}

// PreviewRenderer rasterizes built buffers to PNG with fogleman/gg.
type PreviewRenderer struct {
	config      PreviewConfig
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg PreviewConfig) *PreviewRenderer {
	if cfg.Size <= 0 {
		cfg.Size = 512
	}
	return &PreviewRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Size, cfg.Size)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// Size returns the edge length of rendered images in pixels.
func (r *PreviewRenderer) Size() int { return r.config.Size }

// Render draws edges, tips and mutations of b that fall inside view. World y
// grows downward, matching image space.
func (r *PreviewRenderer) Render(b *Buffers, view Bounds) ([]byte, error) {
	w, h := view[2]-view[0], view[3]-view[1]
	if w <= 0 || h <= 0 {
		return nil, errors.New("render: empty preview bounds")
	}

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if b == nil {
		return r.encodeContext(dc)
	}

	size := float64(r.config.Size)
	sx, sy := size/w, size/h
	px := func(x float32) float64 { return (float64(x) - view[0]) * sx }
	py := func(y float32) float64 { return (float64(y) - view[1]) * sy }

	dc.SetRGBA255(90, 90, 90, 255)
	dc.SetLineWidth(1)
	for e := range b.PathStartIndices {
		start := int(b.PathStartIndices[e]) * 2
		end := len(b.PathPositions)
		if e+1 < len(b.PathStartIndices) {
			end = int(b.PathStartIndices[e+1]) * 2
		}
		dc.NewSubPath()
		for i := start; i+1 < end; i += 2 {
			dc.LineTo(px(b.PathPositions[i]), py(b.PathPositions[i+1]))
		}
	}
	dc.Stroke()

	for i := 0; i+1 < len(b.TipPositions); i += 2 {
		x, y := px(b.TipPositions[i]), py(b.TipPositions[i+1])
		if x < 0 || x >= size || y < 0 || y >= size {
			continue
		}
		c := i * 2
		if c+3 < len(b.TipColors) {
			dc.SetRGBA255(int(b.TipColors[c]), int(b.TipColors[c+1]), int(b.TipColors[c+2]), int(b.TipColors[c+3]))
		}
		dc.DrawCircle(x, y, 2)
		dc.Fill()
	}

	dc.SetRGBA255(214, 39, 40, 255)
	for i := 0; i+1 < len(b.MutPositions); i += 2 {
		x, y := px(b.MutPositions[i]), py(b.MutPositions[i+1])
		if x < 0 || x >= size || y < 0 || y >= size {
			continue
		}
		dc.DrawRectangle(x-1.5, y-1.5, 3, 3)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// BoundsOf returns the world-space extent of all positions in b, or false
// when b holds nothing.
func BoundsOf(b *Buffers) (Bounds, bool) {
	var out Bounds
	first := true
	grow := func(pos []float32) {
		for i := 0; i+1 < len(pos); i += 2 {
			x, y := float64(pos[i]), float64(pos[i+1])
			if first {
				out = Bounds{x, y, x, y}
				first = false
				continue
			}
			out[0] = min(out[0], x)
			out[1] = min(out[1], y)
			out[2] = max(out[2], x)
			out[3] = max(out[3], y)
		}
	}
	if b != nil {
		grow(b.PathPositions)
		grow(b.TipPositions)
		grow(b.MutPositions)
	}
	if first {
		return out, false
	}
	if out[2] == out[0] {
		out[2] = out[0] + 1
	}
	if out[3] == out[1] {
		out[3] = out[1] + 1
	}
	return out, true
}

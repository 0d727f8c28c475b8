// Package layers turns a render state into sublayer descriptors for the
// viewer. Each layer kind is an independent implementation of Layer.
package layers

import (
	"fmt"
	"math"
	"strings"

	"github.com/argview/server/internal/coords"
	"github.com/argview/server/internal/panzoom"
	"github.com/argview/server/internal/render"
)

// Sublayer kinds understood by the viewer.
const (
	KindText    = "text"
	KindLine    = "line"
	KindPath    = "path"
	KindScatter = "scatter"
)

// State is everything a layer may read. Layers never modify it.
type State struct {
	Grid            coords.Grid       `json:"grid"`
	Bins            []coords.LocalBin `json:"bins"`
	GlobalBpPerUnit float64           `json:"global_bp_per_unit"`
	TreeHeight      float64           `json:"tree_height"`
	MinTime         float64           `json:"min_time"`
	MaxTime         float64           `json:"max_time"`
	TimeTicks       int               `json:"time_ticks"`
	Buffers         *render.Buffers   `json:"-"`
}

// Descriptor describes one sublayer to draw.
type Descriptor struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	ViewID string `json:"viewId"`
	Count  int    `json:"count"`
	Data   any    `json:"data,omitempty"`
}

// Label is a positioned piece of text.
type Label struct {
	Text     string     `json:"text"`
	Position [2]float64 `json:"position"`
}

// Segment is a straight line in world space.
type Segment struct {
	From [2]float64 `json:"from"`
	To   [2]float64 `json:"to"`
}

// Layer produces sublayer descriptors from a render state.
type Layer interface {
	RenderLayers(st State) []Descriptor
}

// Default returns the standard layer stack in draw order.
func Default() []Layer {
	return []Layer{GenomeInfo{}, GridLabels{}, Trees{}, TimeLabels{}}
}

// Render concatenates the descriptors of every layer.
func Render(ls []Layer, st State) []Descriptor {
	var out []Descriptor
	for _, l := range ls {
		out = append(out, l.RenderLayers(st)...)
	}
	return out
}

// GridLabels labels each grid bin on the genome axis.
type GridLabels struct{}

func (GridLabels) RenderLayers(st State) []Descriptor {
	bpu := st.GlobalBpPerUnit
	if bpu <= 0 {
		bpu = 1
	}
	labels := make([]Label, 0, len(st.Grid.Bins))
	for _, b := range st.Grid.Bins {
		labels = append(labels, Label{Text: FormatBP(b.Start), Position: [2]float64{b.Start / bpu, 0}})
	}
	return []Descriptor{{
		ID:     "grid-labels",
		Kind:   KindText,
		ViewID: panzoom.ViewGenome,
		Count:  len(labels),
		Data:   labels,
	}}
}

// TimeLabels draws evenly spaced time ticks on the tree-time axis. Time runs
// from MaxTime at y=0 down to MinTime at y=TreeHeight.
type TimeLabels struct{}

func (TimeLabels) RenderLayers(st State) []Descriptor {
	n := st.TimeTicks
	if n <= 0 {
		n = 5
	}
	h := st.TreeHeight
	if h <= 0 {
		h = 1
	}
	span := st.MaxTime - st.MinTime
	var labels []Label
	if span > 0 {
		labels = make([]Label, 0, n+1)
		for i := 0; i <= n; i++ {
			frac := float64(i) / float64(n)
			t := st.MaxTime - frac*span
			labels = append(labels, Label{Text: FormatTime(t), Position: [2]float64{0, frac * h}})
		}
	}
	return []Descriptor{{
		ID:     "time-labels",
		Kind:   KindText,
		ViewID: panzoom.ViewTime,
		Count:  len(labels),
		Data:   labels,
	}}
}

// Trees draws edges, tips and mutations from the built buffers.
type Trees struct{}

func (Trees) RenderLayers(st State) []Descriptor {
	b := st.Buffers
	if b == nil {
		b = &render.Buffers{}
	}
	return []Descriptor{
		{ID: "tree-edges", Kind: KindPath, ViewID: panzoom.ViewOrtho, Count: b.EdgeCount(), Data: map[string]any{
			"positions":    b.PathPositions,
			"startIndices": b.PathStartIndices,
		}},
		{ID: "tree-tips", Kind: KindScatter, ViewID: panzoom.ViewOrtho, Count: b.TipCount(), Data: map[string]any{
			"positions": b.TipPositions,
			"colors":    b.TipColors,
		}},
		{ID: "tree-mutations", Kind: KindScatter, ViewID: panzoom.ViewOrtho, Count: b.MutationCount(), Data: map[string]any{
			"positions": b.MutPositions,
		}},
	}
}

// GenomeInfo draws a vertical line at the start of every local tree and
// labels its genomic interval.
type GenomeInfo struct{}

func (GenomeInfo) RenderLayers(st State) []Descriptor {
	bpu := st.GlobalBpPerUnit
	if bpu <= 0 {
		bpu = 1
	}
	h := st.TreeHeight
	if h <= 0 {
		h = 1
	}
	lines := make([]Segment, 0, len(st.Bins))
	labels := make([]Label, 0, len(st.Bins))
	for _, b := range st.Bins {
		if !b.Visible {
			continue
		}
		x := b.Start / bpu
		lines = append(lines, Segment{From: [2]float64{x, 0}, To: [2]float64{x, h}})
		labels = append(labels, Label{
			Text:     fmt.Sprintf("#%d %s-%s", b.GlobalIndex, FormatBP(b.Start), FormatBP(b.End)),
			Position: [2]float64{(b.Start + b.End) / 2 / bpu, 0},
		})
	}
	return []Descriptor{
		{ID: "genome-info-lines", Kind: KindLine, ViewID: panzoom.ViewGenome, Count: len(lines), Data: lines},
		{ID: "genome-info-labels", Kind: KindText, ViewID: panzoom.ViewGenome, Count: len(labels), Data: labels},
	}
}

// FormatBP formats a base-pair position for axis labels.
func FormatBP(bp float64) string {
	a := math.Abs(bp)
	switch {
	case a >= 1e6:
		return trim(fmt.Sprintf("%.2f", bp/1e6)) + " Mb"
	case a >= 1e3:
		return trim(fmt.Sprintf("%.1f", bp/1e3)) + " kb"
	default:
		return fmt.Sprintf("%d bp", int64(math.Round(bp)))
	}
}

// FormatTime formats a node time for axis labels.
func FormatTime(t float64) string {
	a := math.Abs(t)
	switch {
	case a == 0:
		return "0"
	case a >= 1e4 || a < 1e-2:
		return fmt.Sprintf("%.2e", t)
	default:
		return trim(fmt.Sprintf("%.2f", t))
	}
}

func trim(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}

// Package coords maps a genomic window and pixel viewport onto grid bins and
// the set of local trees visible in it.
package coords

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Window is a genomic interval in base pairs.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Clamp restricts the window to [0, genomeLength]. A window that collapses
// after clamping is widened to at least one base pair where possible.
func (w Window) Clamp(genomeLength float64) Window {
	if w.Start > w.End {
		w.Start, w.End = w.End, w.Start
	}
	w.Start = math.Max(0, w.Start)
	if genomeLength > 0 {
		w.End = math.Min(genomeLength, w.End)
		if w.Start >= w.End {
			w.Start = math.Max(0, w.End-1)
		}
	}
	if w.End <= w.Start {
		w.End = w.Start + 1
	}
	return w
}

// Width returns End-Start.
func (w Window) Width() float64 { return w.End - w.Start }

// Contains reports whether other lies entirely inside w.
func (w Window) Contains(other Window) bool {
	return other.Start >= w.Start && other.End <= w.End
}

// Bin is one evenly spaced genomic grid cell.
type Bin struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// LocalBin places one visible local tree on screen.
type LocalBin struct {
	GlobalIndex int     `json:"global_index"`
	ModelMatrix *Matrix `json:"modelMatrix"`
	Visible     bool    `json:"visible"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
}

// Grid is the output of a binning pass.
type Grid struct {
	Bins         []Bin   `json:"bins"`
	BpPerDecimal float64 `json:"bp_per_decimal"`
	Scale        float64 `json:"scale"`
}

// Config contains mapper settings.
type Config struct {
	GenomeLength    float64
	BaseBinBP       float64
	BaseZoom        float64
	GlobalBpPerUnit float64
	TreeHeight      float64
	MinTreePixels   float64
}

// Mapper converts genomic windows into grid bins and local bins.
type Mapper struct {
	cfg   Config
	trees *TreeIndex
}

// NewMapper creates a mapper over the given tree breakpoints. trees may be nil
// when only grid binning is needed.
func NewMapper(cfg Config, trees *TreeIndex) *Mapper {
	if cfg.GlobalBpPerUnit <= 0 {
		cfg.GlobalBpPerUnit = 1
	}
	if cfg.TreeHeight <= 0 {
		cfg.TreeHeight = 1
	}
	return &Mapper{cfg: cfg, trees: trees}
}

// GenomeLength returns the configured genome length.
func (m *Mapper) GenomeLength() float64 { return m.cfg.GenomeLength }

// GlobalBpPerUnit returns how many base pairs one world unit spans.
func (m *Mapper) GlobalBpPerUnit() float64 { return m.cfg.GlobalBpPerUnit }

// Trees returns the underlying tree index.
func (m *Mapper) Trees() *TreeIndex { return m.trees }

// BinSize returns the bin width in base pairs at the given X zoom along with
// the power-of-two scale relative to the base zoom.
func (m *Mapper) BinSize(zoom float64) (binBP, scale float64) {
	scale = math.Pow(2, m.cfg.BaseZoom-math.Ceil(zoom))
	return m.cfg.BaseBinBP * scale, scale
}

// MaxGridBins bounds the number of bins a single window is split into.
const MaxGridBins = 4096

// GridBins walks the window in steps of the zoom-dependent bin size. Bin
// indices are floor(pos/binBP), so the same genomic position keeps its index
// across pans at a fixed zoom. When the window would hold more than
// MaxGridBins bins the bin size grows to the next power of two that fits.
func (m *Mapper) GridBins(w Window, zoom float64) Grid {
	if m.cfg.GenomeLength <= 0 || m.cfg.BaseBinBP <= 0 {
		return Grid{BpPerDecimal: m.cfg.BaseBinBP, Scale: 1}
	}

	w = w.Clamp(m.cfg.GenomeLength)
	binBP, scale := m.BinSize(zoom)
	if minBP := w.Width() / MaxGridBins; !(binBP >= minBP) {
		scale = math.Exp2(math.Ceil(math.Log2(minBP / m.cfg.BaseBinBP)))
		binBP = m.cfg.BaseBinBP * scale
	}

	first := math.Floor(w.Start / binBP)
	n := int(math.Ceil(w.End/binBP)-first) + 1
	bins := make([]Bin, 0, n)
	for i := 0; i < n; i++ {
		pos := (first + float64(i)) * binBP
		if pos >= m.cfg.GenomeLength || pos >= w.End+binBP {
			break
		}
		bins = append(bins, Bin{
			Index: int(first) + i,
			Start: pos,
			End:   math.Min(pos+binBP, m.cfg.GenomeLength),
		})
	}
	return Grid{Bins: bins, BpPerDecimal: binBP, Scale: scale}
}

// LocalBins samples the tree covering each grid bin and places it in world
// space. A tree wider than a bin keeps its genomic interval; a narrower tree
// is stretched over its bin slot so sampled trees render at a uniform width.
// A wide tree that starts inside the previous tree's slot is trimmed to begin
// where that slot ends, so placed trees never overlap.
func (m *Mapper) LocalBins(w Window, zoom, viewportWidth float64) ([]LocalBin, error) {
	if m.trees == nil || m.trees.Len() == 0 {
		return nil, errors.New("no tree breakpoints loaded")
	}
	grid := m.GridBins(w, zoom)
	if len(grid.Bins) == 0 {
		return nil, nil
	}

	w = w.Clamp(m.cfg.GenomeLength)
	pxPerBP := 0.0
	if viewportWidth > 0 {
		pxPerBP = viewportWidth / w.Width()
	}

	seen := make(map[int]bool, len(grid.Bins))
	out := make([]LocalBin, 0, len(grid.Bins))
	for _, b := range grid.Bins {
		idx := m.trees.TreeAt(b.Start)
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true

		ts, te := m.trees.Interval(idx)
		start, end := ts, te
		if te-ts < grid.BpPerDecimal {
			start, end = b.Start, b.End
		}
		out = append(out, LocalBin{GlobalIndex: idx, Start: start, End: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalIndex < out[j].GlobalIndex })

	for i := range out {
		b := &out[i]
		if i > 0 && b.Start < out[i-1].End {
			b.Start = out[i-1].End
		}
		mat := NewMatrix(
			(b.End-b.Start)/m.cfg.GlobalBpPerUnit,
			m.cfg.TreeHeight,
			b.Start/m.cfg.GlobalBpPerUnit,
			0,
		)
		b.ModelMatrix = &mat
		b.Visible = pxPerBP == 0 || (b.End-b.Start)*pxPerBP >= m.cfg.MinTreePixels
	}
	return out, nil
}

// DisplayArray returns the ascending global indices of visible bins.
func DisplayArray(bins []LocalBin) []int {
	out := make([]int, 0, len(bins))
	for _, b := range bins {
		if b.Visible {
			out = append(out, b.GlobalIndex)
		}
	}
	sort.Ints(out)
	return out
}

// VisibleMatrices returns the model matrices of visible bins keyed by tree
// index. Hidden bins and bins without a matrix are dropped.
func VisibleMatrices(bins []LocalBin) map[int]Matrix {
	out := make(map[int]Matrix, len(bins))
	for _, b := range bins {
		if !b.Visible || b.ModelMatrix == nil {
			continue
		}
		out[b.GlobalIndex] = *b.ModelMatrix
	}
	return out
}

// Signature returns a stable key for a bin set, used for change detection.
func Signature(bins []LocalBin) string {
	parts := make([]string, 0, len(bins))
	for _, idx := range DisplayArray(bins) {
		parts = append(parts, strconv.Itoa(idx))
	}
	return strings.Join(parts, ",")
}

// TreeIndex holds the sorted breakpoints of a tree sequence. Tree i covers
// [breakpoints[i], breakpoints[i+1]).
type TreeIndex struct {
	breakpoints []float64
}

// NewTreeIndex validates and wraps a breakpoint array.
func NewTreeIndex(breakpoints []float64) (*TreeIndex, error) {
	if len(breakpoints) < 2 {
		return nil, fmt.Errorf("need at least 2 breakpoints, got %d", len(breakpoints))
	}
	for i := 1; i < len(breakpoints); i++ {
		if breakpoints[i] <= breakpoints[i-1] {
			return nil, fmt.Errorf("breakpoints not strictly increasing at %d", i)
		}
	}
	bp := make([]float64, len(breakpoints))
	copy(bp, breakpoints)
	return &TreeIndex{breakpoints: bp}, nil
}

// Len returns the number of trees.
func (t *TreeIndex) Len() int { return len(t.breakpoints) - 1 }

// SequenceLength returns the last breakpoint.
func (t *TreeIndex) SequenceLength() float64 { return t.breakpoints[len(t.breakpoints)-1] }

// Interval returns the genomic interval of tree i.
func (t *TreeIndex) Interval(i int) (float64, float64) {
	return t.breakpoints[i], t.breakpoints[i+1]
}

// TreeAt returns the index of the tree covering pos, or -1 if pos is outside
// the sequence.
func (t *TreeIndex) TreeAt(pos float64) int {
	if pos < t.breakpoints[0] || pos >= t.SequenceLength() {
		return -1
	}
	// First breakpoint strictly greater than pos, minus one.
	return sort.Search(len(t.breakpoints), func(i int) bool { return t.breakpoints[i] > pos }) - 1
}

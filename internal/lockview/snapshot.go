// Package lockview works out which local trees a viewport covers and picks a
// single tree to lock the view to.
package lockview

import (
	"math"
	"sort"

	"github.com/argview/server/internal/coords"
)

// ProfileBalanced is the only adaptive target profile.
const ProfileBalanced = "balanced"

// Corner names, in snapshot order.
const (
	TopLeft     = "topLeft"
	TopRight    = "topRight"
	BottomRight = "bottomRight"
	BottomLeft  = "bottomLeft"
)

var cornerNames = [4]string{TopLeft, TopRight, BottomRight, BottomLeft}

// Viewport is an orthographic view: Target is the world point at the center
// of a Width x Height pixel canvas, Zoom is log2 pixels per world unit.
type Viewport struct {
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Target [2]float64 `json:"target"`
	Zoom   [2]float64 `json:"zoom"`
}

// Valid reports whether the viewport can be unprojected.
func (v Viewport) Valid() bool {
	for _, f := range []float64{v.Width, v.Height, v.Target[0], v.Target[1], v.Zoom[0], v.Zoom[1]} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return v.Width > 0 && v.Height > 0
}

// Unproject maps a pixel to world coordinates.
func (v Viewport) Unproject(px, py float64) (float64, float64) {
	return v.Target[0] + (px-v.Width/2)/math.Exp2(v.Zoom[0]),
		v.Target[1] + (py-v.Height/2)/math.Exp2(v.Zoom[1])
}

// Corner is one viewport corner resolved to a tree. Fields are nil when no
// tree covers the corner.
type Corner struct {
	Corner    string   `json:"corner"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	TreeIndex *int     `json:"treeIndex"`
}

// BoundingBox is the viewport rectangle in world space.
type BoundingBox struct {
	MinX   float64 `json:"minX"`
	MaxX   float64 `json:"maxX"`
	MinY   float64 `json:"minY"`
	MaxY   float64 `json:"maxY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LocalBBox is a rectangle in tree-local units.
type LocalBBox struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
}

// AdaptiveTarget describes how much of the only in-box tree the viewport shows.
type AdaptiveTarget struct {
	TreeIndex    int     `json:"treeIndex"`
	CoverageX    float64 `json:"coverageX"`
	CoverageY    float64 `json:"coverageY"`
	CoverageArea float64 `json:"coverageArea"`
	Profile      string  `json:"profile"`
}

// Snapshot is the lock-view state for one viewport and bin set.
type Snapshot struct {
	Corners               [4]Corner       `json:"corners"`
	BoundingBox           *BoundingBox    `json:"boundingBox"`
	InBoxTreeIndices      []int           `json:"inBoxTreeIndices"`
	InBoxTreeCount        int             `json:"inBoxTreeCount"`
	DisplayArraySignature string          `json:"displayArraySignature"`
	TargetLocalBBox       *LocalBBox      `json:"targetLocalBBox"`
	AdaptiveTarget        *AdaptiveTarget `json:"adaptiveTarget"`
}

type span struct {
	index                  int
	matrix                 coords.Matrix
	minX, maxX, minY, maxY float64
}

func spans(bins []coords.LocalBin) []span {
	out := make([]span, 0, len(bins))
	for _, b := range bins {
		if b.ModelMatrix == nil {
			continue
		}
		m := *b.ModelMatrix
		if m.ScaleX() == 0 || m.ScaleY() == 0 {
			continue
		}
		minX, maxX, minY, maxY := m.Extent()
		out = append(out, span{index: b.GlobalIndex, matrix: m, minX: minX, maxX: maxX, minY: minY, maxY: maxY})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// Build computes the snapshot. Malformed input degrades to nil fields.
func Build(vp Viewport, bins []coords.LocalBin) *Snapshot {
	snap := &Snapshot{
		InBoxTreeIndices:      []int{},
		DisplayArraySignature: coords.Signature(bins),
	}
	for i, name := range cornerNames {
		snap.Corners[i] = Corner{Corner: name}
	}
	if !vp.Valid() {
		return snap
	}

	trees := spans(bins)

	pixels := [4][2]float64{{0, 0}, {vp.Width, 0}, {vp.Width, vp.Height}, {0, vp.Height}}
	var world [4][2]float64
	for i, p := range pixels {
		wx, wy := vp.Unproject(p[0], p[1])
		world[i] = [2]float64{wx, wy}
		for _, s := range trees {
			if wx < s.minX || wx > s.maxX {
				continue
			}
			lx, ly, ok := s.matrix.Inverse(wx, wy)
			if !ok {
				continue
			}
			idx := s.index
			snap.Corners[i].TreeIndex = &idx
			snap.Corners[i].X = &lx
			snap.Corners[i].Y = &ly
			break
		}
	}

	box := &BoundingBox{
		MinX: math.Min(world[0][0], world[2][0]),
		MaxX: math.Max(world[0][0], world[2][0]),
		MinY: math.Min(world[0][1], world[2][1]),
		MaxY: math.Max(world[0][1], world[2][1]),
	}
	box.Width = box.MaxX - box.MinX
	box.Height = box.MaxY - box.MinY
	snap.BoundingBox = box

	var inBox []span
	for _, s := range trees {
		if s.maxX > box.MinX && s.minX < box.MaxX {
			if len(inBox) > 0 && inBox[len(inBox)-1].index == s.index {
				continue
			}
			inBox = append(inBox, s)
			snap.InBoxTreeIndices = append(snap.InBoxTreeIndices, s.index)
		}
	}
	snap.InBoxTreeCount = len(snap.InBoxTreeIndices)

	if len(inBox) == 1 {
		snap.TargetLocalBBox, snap.AdaptiveTarget = adaptive(inBox[0], box)
	}
	return snap
}

func adaptive(s span, box *BoundingBox) (*LocalBBox, *AdaptiveTarget) {
	ix0, ix1 := math.Max(s.minX, box.MinX), math.Min(s.maxX, box.MaxX)
	iy0, iy1 := math.Max(s.minY, box.MinY), math.Min(s.maxY, box.MaxY)
	if iy1 < iy0 {
		iy1 = iy0
	}

	lx0, ly0, _ := s.matrix.Inverse(ix0, iy0)
	lx1, ly1, _ := s.matrix.Inverse(ix1, iy1)
	local := &LocalBBox{
		MinX: math.Min(lx0, lx1),
		MaxX: math.Max(lx0, lx1),
		MinY: math.Min(ly0, ly1),
		MaxY: math.Max(ly0, ly1),
	}

	cx := (ix1 - ix0) / (s.maxX - s.minX)
	cy := (iy1 - iy0) / (s.maxY - s.minY)
	return local, &AdaptiveTarget{
		TreeIndex:    s.index,
		CoverageX:    cx,
		CoverageY:    cy,
		CoverageArea: cx * cy,
		Profile:      ProfileBalanced,
	}
}

// TargetWindow returns the genomic interval of the adaptive target, if any.
func (s *Snapshot) TargetWindow(bins []coords.LocalBin) (coords.Window, bool) {
	if s == nil || s.AdaptiveTarget == nil {
		return coords.Window{}, false
	}
	for _, b := range bins {
		if b.GlobalIndex == s.AdaptiveTarget.TreeIndex && b.End > b.Start {
			return coords.Window{Start: b.Start, End: b.End}, true
		}
	}
	return coords.Window{}, false
}

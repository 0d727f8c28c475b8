// Package render flattens per-tree layout columns into GPU-ready buffers.
package render

import (
	"image/color"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/coords"
	"github.com/argview/server/pkg/colormap"
)

// VerticesPerEdge is the number of points in each L-shaped edge polyline.
const VerticesPerEdge = 3

// EdgeRef identifies one drawn edge for picking.
type EdgeRef struct {
	ParentID int32 `json:"parent_id"`
	ChildID  int32 `json:"child_id"`
	TreeIdx  int32 `json:"tree_idx"`
}

// Buffers are flat arrays ready for upload. Positions are x,y pairs in world
// space; PathStartIndices holds the first vertex of each edge.
type Buffers struct {
	PathPositions    []float32 `json:"pathPositions"`
	PathStartIndices []uint32  `json:"pathStartIndices"`
	TipPositions     []float32 `json:"tipPositions"`
	TipColors        []uint8   `json:"tipColors"`
	MutPositions     []float32 `json:"mutPositions"`
	EdgeData         []EdgeRef `json:"edgeData"`
}

// EdgeCount returns the number of edges.
func (b *Buffers) EdgeCount() int { return len(b.PathStartIndices) }

// TipCount returns the number of tips.
func (b *Buffers) TipCount() int { return len(b.TipPositions) / 2 }

// MutationCount returns the number of mutation markers.
func (b *Buffers) MutationCount() int { return len(b.MutPositions) / 2 }

// TipColorer picks the color of a tip.
type TipColorer interface {
	TipColor(treeIdx int32, name string) color.RGBA
}

// FixedColor colors every tip the same.
type FixedColor color.RGBA

func (c FixedColor) TipColor(int32, string) color.RGBA { return color.RGBA(c) }

// TreeColorer colors tips by their tree index using a colormap.
type TreeColorer struct {
	Colormap colormap.Colormap
}

func (c TreeColorer) TipColor(treeIdx int32, _ string) color.RGBA {
	return colormap.ToRGBA(c.Colormap.AtIndex(int(treeIdx)))
}

type nodeKey struct {
	tree int32
	node int32
}

// Build projects every node of a visible tree into world space with its
// tree's model matrix and emits edge polylines, tip points and mutation
// markers. Rows whose tree has no matrix are dropped. The inputs are not
// modified; all outputs are freshly allocated.
func Build(layout *backend.LayoutBuffer, matrices map[int]coords.Matrix, colorer TipColorer) *Buffers {
	if colorer == nil {
		colorer = FixedColor{R: 31, G: 119, B: 180, A: 255}
	}
	out := &Buffers{}
	if layout == nil {
		return out
	}

	n := layout.Len()
	rows := make(map[nodeKey]int, n)
	for i := 0; i < n; i++ {
		if _, ok := matrices[int(layout.TreeIdx[i])]; !ok {
			continue
		}
		rows[nodeKey{layout.TreeIdx[i], layout.NodeID[i]}] = i
	}

	out.PathPositions = make([]float32, 0, len(rows)*VerticesPerEdge*2)
	out.PathStartIndices = make([]uint32, 0, len(rows))
	out.EdgeData = make([]EdgeRef, 0, len(rows))

	for i := 0; i < n; i++ {
		tree := layout.TreeIdx[i]
		m, ok := matrices[int(tree)]
		if !ok {
			continue
		}
		cx, cy := m.Apply(float64(layout.X[i]), float64(layout.Y[i]))

		if layout.IsTip[i] {
			out.TipPositions = append(out.TipPositions, float32(cx), float32(cy))
			c := colorer.TipColor(tree, layout.Name[i])
			out.TipColors = append(out.TipColors, c.R, c.G, c.B, c.A)
		}

		if layout.ParentID[i] < 0 {
			continue
		}
		p, ok := rows[nodeKey{tree, layout.ParentID[i]}]
		if !ok {
			continue
		}
		px, py := m.Apply(float64(layout.X[p]), float64(layout.Y[p]))

		out.PathStartIndices = append(out.PathStartIndices, uint32(len(out.PathPositions)/2))
		out.PathPositions = append(out.PathPositions,
			float32(px), float32(py),
			float32(cx), float32(py),
			float32(cx), float32(cy),
		)
		out.EdgeData = append(out.EdgeData, EdgeRef{
			ParentID: layout.ParentID[i],
			ChildID:  layout.NodeID[i],
			TreeIdx:  tree,
		})
	}

	for i := range layout.MutX {
		m, ok := matrices[int(layout.MutTreeIdx[i])]
		if !ok {
			continue
		}
		wx, wy := m.Apply(float64(layout.MutX[i]), float64(layout.MutY[i]))
		out.MutPositions = append(out.MutPositions, float32(wx), float32(wy))
	}

	return out
}

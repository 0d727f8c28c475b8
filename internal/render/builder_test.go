package render

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"reflect"
	"testing"

	"github.com/argview/server/internal/backend"
	"github.com/argview/server/internal/coords"
	"github.com/argview/server/pkg/colormap"
)

// twoTrees is a cherry in tree 0 and a single-tip tree 1.
func twoTrees() *backend.LayoutBuffer {
	return &backend.LayoutBuffer{
		NodeID:     []int32{0, 1, 2, 0, 1},
		ParentID:   []int32{-1, 0, 0, -1, 0},
		IsTip:      []bool{false, true, true, false, true},
		TreeIdx:    []int32{0, 0, 0, 1, 1},
		X:          []float32{0.5, 0, 1, 0.5, 0.5},
		Y:          []float32{0, 1, 1, 0, 1},
		Time:       []float32{1, 0, 0, 1, 0},
		Name:       []string{"", "a", "b", "", "c"},
		MutX:       []float32{0.25, 0.5},
		MutY:       []float32{0.5, 0.5},
		MutTreeIdx: []int32{0, 1},
		MutNodeID:  []int32{1, 1},
	}
}

func TestBuild_ProjectsIntoWorld(t *testing.T) {
	matrices := map[int]coords.Matrix{
		0: coords.NewMatrix(10, 2, 100, 0),
		1: coords.NewMatrix(4, 2, 200, 0),
	}
	red := FixedColor{R: 255, A: 255}

	out := Build(twoTrees(), matrices, red)

	if out.EdgeCount() != 3 {
		t.Fatalf("expected 3 edges, got %d", out.EdgeCount())
	}
	if want := []uint32{0, 3, 6}; !reflect.DeepEqual(out.PathStartIndices, want) {
		t.Fatalf("unexpected start indices %v", out.PathStartIndices)
	}
	// First edge: parent (0.5,0) -> child (0,1) in tree 0.
	wantFirst := []float32{105, 0, 100, 0, 100, 2}
	if !reflect.DeepEqual(out.PathPositions[:6], wantFirst) {
		t.Fatalf("unexpected first polyline %v", out.PathPositions[:6])
	}
	if out.EdgeData[2] != (EdgeRef{ParentID: 0, ChildID: 1, TreeIdx: 1}) {
		t.Fatalf("unexpected edge ref %+v", out.EdgeData[2])
	}

	if out.TipCount() != 3 {
		t.Fatalf("expected 3 tips, got %d", out.TipCount())
	}
	if want := []float32{100, 2, 110, 2, 202, 2}; !reflect.DeepEqual(out.TipPositions, want) {
		t.Fatalf("unexpected tip positions %v", out.TipPositions)
	}
	if len(out.TipColors) != 12 || out.TipColors[0] != 255 || out.TipColors[3] != 255 {
		t.Fatalf("unexpected tip colors %v", out.TipColors)
	}

	if want := []float32{102.5, 1, 202, 1}; !reflect.DeepEqual(out.MutPositions, want) {
		t.Fatalf("unexpected mutation positions %v", out.MutPositions)
	}
}

func TestBuild_DropsTreesWithoutMatrix(t *testing.T) {
	out := Build(twoTrees(), map[int]coords.Matrix{1: coords.NewMatrix(1, 1, 0, 0)}, nil)

	if out.EdgeCount() != 1 || out.TipCount() != 1 || out.MutationCount() != 1 {
		t.Fatalf("expected only tree 1, got edges=%d tips=%d muts=%d",
			out.EdgeCount(), out.TipCount(), out.MutationCount())
	}
	for _, e := range out.EdgeData {
		if e.TreeIdx != 1 {
			t.Fatalf("unexpected edge from tree %d", e.TreeIdx)
		}
	}
}

func TestBuild_DoesNotModifyInput(t *testing.T) {
	in := twoTrees()
	before := twoTrees()
	Build(in, map[int]coords.Matrix{0: coords.NewMatrix(3, 3, 7, 7)}, nil)
	if !reflect.DeepEqual(in, before) {
		t.Fatal("expected layout to be left untouched")
	}
}

func TestBuild_Empty(t *testing.T) {
	out := Build(nil, nil, nil)
	if out.EdgeCount() != 0 || out.TipCount() != 0 {
		t.Fatalf("expected empty buffers, got %+v", out)
	}
}

func TestTreeColorer(t *testing.T) {
	c := TreeColorer{Colormap: colormap.Categorical}
	if got := c.TipColor(1, ""); got != (color.RGBA{R: 255, G: 127, B: 14, A: 255}) {
		t.Fatalf("unexpected color %#v", got)
	}
}

func TestPool_Build(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2})
	defer p.Stop()

	req := Request{Layout: twoTrees(), Matrices: map[int]coords.Matrix{0: coords.NewMatrix(1, 1, 0, 0)}}
	out, err := p.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reflect.DeepEqual(out, Build(req.Layout, req.Matrices, nil)) {
		t.Fatal("expected pool output to match direct build")
	}
}

func TestPool_Stopped(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})
	p.Stop()
	p.Stop()

	_, err := p.Build(context.Background(), Request{})
	if !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPreviewRenderer(t *testing.T) {
	r := NewPreviewRenderer(PreviewConfig{Size: 64})
	b := Build(twoTrees(), map[int]coords.Matrix{0: coords.NewMatrix(10, 10, 0, 0)}, nil)

	bounds, ok := BoundsOf(b)
	if !ok {
		t.Fatal("expected bounds")
	}
	if bounds != (Bounds{0, 0, 10, 10}) {
		t.Fatalf("unexpected bounds %v", bounds)
	}

	data, err := r.Render(b, bounds)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("unexpected image size %v", img.Bounds())
	}

	if _, err := r.Render(b, Bounds{0, 0, 0, 10}); err == nil {
		t.Fatal("expected error for empty bounds")
	}
	if _, ok := BoundsOf(&Buffers{}); ok {
		t.Fatal("expected no bounds for empty buffers")
	}
}

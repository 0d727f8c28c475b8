package colormap

import (
	"image/color"
	"testing"
)

func TestViridisEndpoints(t *testing.T) {
	t.Parallel()

	if got := ToRGBA(Viridis.At(0)); got != (color.RGBA{R: 68, G: 1, B: 84, A: 255}) {
		t.Fatalf("unexpected Viridis.At(0): %#v", got)
	}
	if got := ToRGBA(Viridis.At(1)); got != (color.RGBA{R: 253, G: 231, B: 37, A: 255}) {
		t.Fatalf("unexpected Viridis.At(1): %#v", got)
	}
	if got := ToRGBA(Viridis.At(-3)); got != ToRGBA(Viridis.At(0)) {
		t.Fatalf("expected clamp below 0, got %#v", got)
	}
}

func TestCategoricalAtIndexWraps(t *testing.T) {
	t.Parallel()

	n := len(Categorical.colors)
	if Categorical.AtIndex(n+2) != Categorical.AtIndex(2) {
		t.Fatal("expected AtIndex to wrap")
	}
	if Categorical.AtIndex(-1) != Categorical.AtIndex(n-1) {
		t.Fatal("expected negative index to wrap from the end")
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"viridis", "Plasma", "INFERNO", "magma", "categorical"} {
		if _, ok := ByName(name); !ok {
			t.Fatalf("expected colormap %q", name)
		}
	}
	if _, ok := ByName("seurat"); ok {
		t.Fatal("expected unknown colormap to miss")
	}
}

package main

import (
	"testing"

	"gorgonia.org/tensor"
)

func TestTileGridGeometry(t *testing.T) {
	// 5 images of 2x2 in 2 columns -> 3 rows of tiles.
	n, h, w := 5, 2, 2
	backing := make([]float32, n*3*h*w)
	batch := tensor.New(tensor.WithShape(n, 3, h, w), tensor.WithBacking(backing))

	grid, err := TileGrid(batch, 2)
	if err != nil {
		t.Fatalf("TileGrid failed: %v", err)
	}
	bounds := grid.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 6 {
		t.Errorf("grid size = %dx%d, want 4x6", bounds.Dx(), bounds.Dy())
	}
}

func TestTileGridPixelPlacement(t *testing.T) {
	// One 1x1 image: R=-1, G=0, B=1 maps to (0, 128, 255).
	batch := tensor.New(tensor.WithShape(1, 3, 1, 1), tensor.WithBacking([]float32{-1, 0, 1}))
	grid, err := TileGrid(batch, 1)
	if err != nil {
		t.Fatalf("TileGrid failed: %v", err)
	}

	c := grid.RGBAAt(0, 0)
	if c.R != 0 || c.G != 128 || c.B != 255 || c.A != 255 {
		t.Errorf("pixel = %+v, want {0 128 255 255}", c)
	}
}

func TestTileGridRejectsBadShape(t *testing.T) {
	batch := tensor.New(tensor.WithShape(2, 1, 2, 2), tensor.WithBacking(make([]float32, 8)))
	if _, err := TileGrid(batch, 2); err == nil {
		t.Error("expected error for non-RGB batch")
	}
}

func TestDenormalizePixelClamps(t *testing.T) {
	cases := []struct {
		in   float32
		want uint8
	}{
		{-2, 0},
		{-1, 0},
		{1, 255},
		{2, 255},
		{0, 128},
	}
	for _, tc := range cases {
		if got := denormalizePixel(tc.in); got != tc.want {
			t.Errorf("denormalizePixel(%g) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

package main

import (
	"math"
	"testing"
)

func TestNoiseSourceShape(t *testing.T) {
	n := NewNoiseSource(1)
	s := n.Sample(6, 4)
	shape := s.Shape()
	if len(shape) != 2 || shape[0] != 6 || shape[1] != 4 {
		t.Fatalf("sample shape = %v, want [6 4]", shape)
	}
}

func TestNoiseSourceSeeded(t *testing.T) {
	a := NewNoiseSource(42).Sample(4, 4).Data().([]float32)
	b := NewNoiseSource(42).Sample(4, 4).Data().([]float32)
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed produced different latent streams")
		}
	}

	c := NewNoiseSource(43).Sample(4, 4).Data().([]float32)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical latent streams")
	}
}

func TestNoiseSourceRoughlyStandard(t *testing.T) {
	n := NewNoiseSource(7)
	data := n.Sample(1000, 8).Data().([]float32)

	var sum, sumSq float64
	for _, v := range data {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	mean := sum / float64(len(data))
	variance := sumSq/float64(len(data)) - mean*mean

	if math.Abs(mean) > 0.05 {
		t.Errorf("sample mean = %g, want ~0", mean)
	}
	if math.Abs(variance-1) > 0.1 {
		t.Errorf("sample variance = %g, want ~1", variance)
	}
}

func TestInterpolationGridCorners(t *testing.T) {
	dim := 3
	corners := NewNoiseSource(11).Sample(4, dim)
	grid := InterpolationGrid(corners, 5, 7)

	shape := grid.Shape()
	if shape[0] != 35 || shape[1] != dim {
		t.Fatalf("grid shape = %v, want [35 %d]", shape, dim)
	}

	c := corners.Data().([]float32)
	g := grid.Data().([]float32)
	checkRow := func(row int, want []float32, label string) {
		for i := 0; i < dim; i++ {
			if got := g[row*dim+i]; math.Abs(float64(got-want[i])) > 1e-6 {
				t.Errorf("%s corner dim %d = %g, want %g", label, i, got, want[i])
			}
		}
	}
	checkRow(0, c[0:dim], "top-left")
	checkRow(6, c[dim:2*dim], "top-right")
	checkRow(28, c[2*dim:3*dim], "bottom-left")
	checkRow(34, c[3*dim:4*dim], "bottom-right")
}

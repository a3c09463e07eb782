package main

import (
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// NoiseSource samples standard-normal latent vectors and reparameterization
// noise. One source is shared by the whole training run so a seed fixes
// the full latent stream.
type NoiseSource struct {
	normal distuv.Normal
}

// NewNoiseSource creates a seeded N(0,1) sampler.
func NewNoiseSource(seed uint64) *NoiseSource {
	return &NoiseSource{
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: xrand.NewSource(seed)},
	}
}

// Sample draws a (rows, dim) standard-normal tensor.
func (n *NoiseSource) Sample(rows, dim int) *tensor.Dense {
	backing := make([]float32, rows*dim)
	for i := range backing {
		backing[i] = float32(n.normal.Rand())
	}
	return tensor.New(tensor.WithShape(rows, dim), tensor.WithBacking(backing))
}

// InterpolationGrid bilinearly interpolates between four corner latents
// over a rows x cols grid, returning (rows*cols, dim) latents in row-major
// order. Corner order: top-left, top-right, bottom-left, bottom-right.
func InterpolationGrid(corners *tensor.Dense, rows, cols int) *tensor.Dense {
	dim := corners.Shape()[1]
	data := corners.Data().([]float32)
	tl := data[0*dim : 1*dim]
	tr := data[1*dim : 2*dim]
	bl := data[2*dim : 3*dim]
	br := data[3*dim : 4*dim]

	backing := make([]float32, rows*cols*dim)
	for r := 0; r < rows; r++ {
		fy := float32(0)
		if rows > 1 {
			fy = float32(r) / float32(rows-1)
		}
		for c := 0; c < cols; c++ {
			fx := float32(0)
			if cols > 1 {
				fx = float32(c) / float32(cols-1)
			}
			out := backing[(r*cols+c)*dim : (r*cols+c+1)*dim]
			for i := 0; i < dim; i++ {
				top := tl[i] + (tr[i]-tl[i])*fx
				bottom := bl[i] + (br[i]-bl[i])*fx
				out[i] = top + (bottom-top)*fy
			}
		}
	}
	return tensor.New(tensor.WithShape(rows*cols, dim), tensor.WithBacking(backing))
}

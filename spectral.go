package main

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ===========================================================================
// SPECTRAL NORMALIZATION
// ===========================================================================
//
// Spectral normalization rescales a weight by its largest singular value,
// bounding the layer's Lipschitz constant. The singular value is estimated
// with one step of power iteration per training step:
//
//   v <- normalize(W^T u)
//   u <- normalize(W v)
//   sigma ~= u^T W v
//
// The weight is viewed as a (rows, cols) matrix: a convolution filter
// (out, in, kh, kw) flattens to (out, in*kh*kw), a dense weight (in, out)
// is used as-is. The u and v vectors persist across the whole run and are
// mutated in place between graph executions; the graphs hold nodes backed
// by the same storage, so the in-graph sigma = u^T (W v) always sees the
// freshest iterate. Gradients flow through W both directly and through
// sigma, while u and v are treated as constants within a step.
//
// ===========================================================================

// snState holds the power-iteration state for one spectral-normalized
// weight. It is owned by the discriminator that owns the weight.
type snState struct {
	param *Param
	rows  int
	cols  int

	u *tensor.Dense // shape (rows)
	v *tensor.Dense // shape (cols)
}

func newSNState(p *Param) *snState {
	shape := p.Value.Shape()
	rows := shape[0]
	cols := 1
	for _, d := range shape[1:] {
		cols *= d
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: xrand.NewSource(uint64(rows*31 + cols))}
	ub := make([]float32, rows)
	for i := range ub {
		ub[i] = float32(normal.Rand())
	}
	normalizeVec(ub)

	s := &snState{
		param: p,
		rows:  rows,
		cols:  cols,
		u:     tensor.New(tensor.WithShape(rows), tensor.WithBacking(ub)),
		v:     tensor.New(tensor.WithShape(cols), tensor.WithBacking(make([]float32, cols))),
	}
	// Seed v from the freshly initialized weight so sigma is sane before
	// the first training step.
	s.PowerIterate()
	return s
}

// PowerIterate performs one power-iteration step on the raw weight value.
// Called once per discriminator step, before the tape machines run.
func (s *snState) PowerIterate() {
	w := s.param.Value.Data().([]float32)
	u := s.u.Data().([]float32)
	v := s.v.Data().([]float32)

	// v = normalize(W^T u)
	for j := range v {
		v[j] = 0
	}
	for i := 0; i < s.rows; i++ {
		ui := u[i]
		row := w[i*s.cols : (i+1)*s.cols]
		for j, wij := range row {
			v[j] += wij * ui
		}
	}
	normalizeVec(v)

	// u = normalize(W v)
	for i := 0; i < s.rows; i++ {
		row := w[i*s.cols : (i+1)*s.cols]
		var dot float32
		for j, wij := range row {
			dot += wij * v[j]
		}
		u[i] = dot
	}
	normalizeVec(u)
}

// Sigma estimates the current spectral norm on the host side, u^T W v.
// Used for metrics; the in-graph estimate in normalizedWeight is what the
// loss actually sees.
func (s *snState) Sigma() float64 {
	w := s.param.Value.Data().([]float32)
	u := s.u.Data().([]float32)
	v := s.v.Data().([]float32)
	var sigma float64
	for i := 0; i < s.rows; i++ {
		row := w[i*s.cols : (i+1)*s.cols]
		var dot float64
		for j, wij := range row {
			dot += float64(wij) * float64(v[j])
		}
		sigma += float64(u[i]) * dot
	}
	return sigma
}

// normalizedWeight builds the W/sigma node for this weight on ctx's graph.
// The u and v nodes share backing storage with the persistent iterates, so
// no per-step feeding is needed.
func (s *snState) normalizedWeight(ctx *graphCtx) (*gorgonia.Node, error) {
	if n, ok := ctx.normalized[s.param]; ok {
		return n, nil
	}

	w := ctx.node(s.param)
	uNode := gorgonia.NewVector(ctx.g, gorgonia.Float32,
		gorgonia.WithShape(s.rows),
		gorgonia.WithName(s.param.Name+".sn_u"),
		gorgonia.WithValue(s.u))
	vNode := gorgonia.NewVector(ctx.g, gorgonia.Float32,
		gorgonia.WithShape(s.cols),
		gorgonia.WithName(s.param.Name+".sn_v"),
		gorgonia.WithValue(s.v))

	wmat := w
	if len(s.param.Value.Shape()) != 2 {
		var err error
		wmat, err = gorgonia.Reshape(w, tensor.Shape{s.rows, s.cols})
		if err != nil {
			return nil, errors.Wrapf(err, "flattening %s for spectral norm", s.param.Name)
		}
	}
	wv, err := gorgonia.Mul(wmat, vNode)
	if err != nil {
		return nil, errors.Wrapf(err, "computing Wv for %s", s.param.Name)
	}
	sigma, err := gorgonia.Mul(uNode, wv)
	if err != nil {
		return nil, errors.Wrapf(err, "computing u^T Wv for %s", s.param.Name)
	}
	normed, err := gorgonia.Div(w, sigma)
	if err != nil {
		return nil, errors.Wrapf(err, "dividing %s by sigma", s.param.Name)
	}
	ctx.normalized[s.param] = normed
	return normed, nil
}

func normalizeVec(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	norm := float32(math.Sqrt(sum) + 1e-8)
	for i := range x {
		x[i] /= norm
	}
}

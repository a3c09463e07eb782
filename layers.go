package main

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ===========================================================================
// LAYERS
// ===========================================================================
//
// Thin wrappers around gorgonia ops that pair an op with its Params. A
// layer is constructed once (allocating its weights) and applied on any
// number of expression graphs through a graphCtx; the weights are shared
// across graphs via their backing tensors.
//
// ===========================================================================

// leakySlope is the LeakyReLU slope used throughout both networks.
const leakySlope = 0.2

// residualScale down-weights the main path of every residual block so the
// shortcut dominates early in training: out = residualScale*main + shortcut.
const residualScale = 0.1

// Conv2D is a 2D convolution with optional bias and optional spectral
// normalization of the filter.
type Conv2D struct {
	W      *Param
	B      *Param // nil when the layer has no bias
	SN     *snState
	Kernel int
	Stride int
	Pad    int
}

// NewConv2D allocates a kxk convolution mapping inC -> outC channels.
func NewConv2D(name string, inC, outC, kernel, stride, pad int, bias, spectral bool) *Conv2D {
	c := &Conv2D{
		W:      NewParam(name+".w", gorgonia.GlorotN(1.0), outC, inC, kernel, kernel),
		Kernel: kernel,
		Stride: stride,
		Pad:    pad,
	}
	if bias {
		c.B = NewParam(name+".b", gorgonia.Zeroes(), 1, outC, 1, 1)
	}
	if spectral {
		c.SN = newSNState(c.W)
	}
	return c
}

// Apply convolves x (NCHW) with the layer's filter on ctx's graph.
func (c *Conv2D) Apply(ctx *graphCtx, x *gorgonia.Node) (*gorgonia.Node, error) {
	w := ctx.node(c.W)
	if c.SN != nil {
		var err error
		if w, err = c.SN.normalizedWeight(ctx); err != nil {
			return nil, err
		}
	}
	y, err := gorgonia.Conv2d(x, w,
		tensor.Shape{c.Kernel, c.Kernel},
		[]int{c.Pad, c.Pad},
		[]int{c.Stride, c.Stride},
		[]int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "conv %s", c.W.Name)
	}
	if c.B != nil {
		y, err = gorgonia.BroadcastAdd(y, ctx.node(c.B), nil, []byte{0, 2, 3})
		if err != nil {
			return nil, errors.Wrapf(err, "bias %s", c.B.Name)
		}
	}
	return y, nil
}

// Params returns the layer's learnables.
func (c *Conv2D) Params() []*Param {
	if c.B != nil {
		return []*Param{c.W, c.B}
	}
	return []*Param{c.W}
}

// Dense is a fully connected layer with weight shape (in, out).
type Dense struct {
	W  *Param
	B  *Param
	SN *snState
}

// NewDense allocates an in -> out projection.
func NewDense(name string, in, out int, bias, spectral bool) *Dense {
	d := &Dense{W: NewParam(name+".w", gorgonia.GlorotN(1.0), in, out)}
	if bias {
		d.B = NewParam(name+".b", gorgonia.Zeroes(), 1, out)
	}
	if spectral {
		d.SN = newSNState(d.W)
	}
	return d
}

// Apply computes x*W (+ b) for x of shape (batch, in).
func (d *Dense) Apply(ctx *graphCtx, x *gorgonia.Node) (*gorgonia.Node, error) {
	w := ctx.node(d.W)
	if d.SN != nil {
		var err error
		if w, err = d.SN.normalizedWeight(ctx); err != nil {
			return nil, err
		}
	}
	y, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, errors.Wrapf(err, "dense %s", d.W.Name)
	}
	if d.B != nil {
		y, err = gorgonia.BroadcastAdd(y, ctx.node(d.B), nil, []byte{0})
		if err != nil {
			return nil, errors.Wrapf(err, "bias %s", d.B.Name)
		}
	}
	return y, nil
}

// Params returns the layer's learnables.
func (d *Dense) Params() []*Param {
	if d.B != nil {
		return []*Param{d.W, d.B}
	}
	return []*Param{d.W}
}

// BatchNorm2D normalizes NCHW activations per channel with a learned
// scale and bias. Statistics are the batch statistics whenever the graph
// was built in training mode; inference snapshots also run on batch
// statistics, since running averages cannot be shared across graphs.
type BatchNorm2D struct {
	Scale    *Param // shape (1, C, 1, 1)
	Bias     *Param // shape (1, C, 1, 1)
	Momentum float64
	Epsilon  float64
}

// NewBatchNorm2D allocates per-channel normalization parameters.
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	return &BatchNorm2D{
		Scale:    NewParam(name+".scale", gorgonia.Ones(), 1, channels, 1, 1),
		Bias:     NewParam(name+".bias", gorgonia.Zeroes(), 1, channels, 1, 1),
		Momentum: 0.9,
		Epsilon:  1e-5,
	}
}

// Apply normalizes x on ctx's graph.
func (bn *BatchNorm2D) Apply(ctx *graphCtx, x *gorgonia.Node) (*gorgonia.Node, error) {
	y, _, _, op, err := gorgonia.BatchNorm(x, ctx.node(bn.Scale), ctx.node(bn.Bias), bn.Momentum, bn.Epsilon)
	if err != nil {
		return nil, errors.Wrapf(err, "batchnorm %s", bn.Scale.Name)
	}
	// Batch statistics in every mode; see type comment.
	if err := op.SetTraining(true); err != nil {
		return nil, errors.Wrapf(err, "batchnorm %s", bn.Scale.Name)
	}
	return y, nil
}

// Params returns the layer's learnables.
func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{bn.Scale, bn.Bias}
}

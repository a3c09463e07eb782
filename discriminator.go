package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ===========================================================================
// DISCRIMINATOR
// ===========================================================================
//
// The discriminator mirrors the generator: a per-resolution RGB-to-feature
// projection, one downsampling residual block per halving back to 4x4,
// a global average pool, and then the variational head: two parallel
// dense projections produce the encoding mean and log-variance, and a
// final dense projection reduces the encoding to the realism logit.
//
// Residual topology per block:
//
//   main:     Conv3x3 -> LeakyReLU -> Conv3x3(stride 2)
//   shortcut: Conv1x1(stride 2)
//   out:      residualScale*main + shortcut
//
// All discriminator weights are optionally spectral-normalized.
//
// Encoding modes:
//   - reparameterized (discriminator optimization): z = mean + eps*exp(0.5*logVar)
//     with eps fed as a standard-normal input node, so gradients flow
//     through mean and logVar while the sample stays stochastic.
//   - deterministic (generator optimization, inference): z = mean. No
//     noise enters the generator's gradient path, and two passes over
//     identical input produce identical outputs.
//
// ===========================================================================

// DiscOut bundles the three output nodes of one discriminator forward
// pass.
type DiscOut struct {
	Logit  *gorgonia.Node // (batch, 1)
	Mean   *gorgonia.Node // (batch, EncodingDim)
	LogVar *gorgonia.Node // (batch, EncodingDim)
}

// Discriminator holds the full block chain, the variational head, and the
// spectral-norm state for every normalized weight.
type Discriminator struct {
	cfg     Config
	fromRGB []*Conv2D    // index l-2 is the projection for level l
	blocks  []*discBlock // level 3..levelOf(MaxResolution); block l maps l -> l-1
	mean    *Dense
	logVar  *Dense
	logit   *Dense
	params  []*Param
	sn      []*snState
}

type discBlock struct {
	level int
	conv1 *Conv2D
	conv2 *Conv2D
	short *Conv2D
}

// NewDiscriminator builds the chain for cfg.
func NewDiscriminator(cfg Config) *Discriminator {
	d := &Discriminator{cfg: cfg}
	spectral := cfg.SpectralNorm
	maxLevel := levelOf(MaxResolution)

	for level := 2; level <= maxLevel; level++ {
		ch := cfg.channelsAt(level)
		c := NewConv2D(fmt.Sprintf("disc.rgb%d", level), 3, ch, 3, 1, 1, true, spectral)
		d.fromRGB = append(d.fromRGB, c)
		d.addLayer(c.Params(), c.SN)
	}

	for level := 3; level <= maxLevel; level++ {
		inC := cfg.channelsAt(level)
		outC := cfg.channelsAt(level - 1)
		name := fmt.Sprintf("disc.block%d", level)
		b := &discBlock{
			level: level,
			conv1: NewConv2D(name+".conv1", inC, inC, 3, 1, 1, true, spectral),
			conv2: NewConv2D(name+".conv2", inC, outC, 3, 2, 1, true, spectral),
			short: NewConv2D(name+".short", inC, outC, 1, 2, 0, true, spectral),
		}
		d.blocks = append(d.blocks, b)
		d.addLayer(b.conv1.Params(), b.conv1.SN)
		d.addLayer(b.conv2.Params(), b.conv2.SN)
		d.addLayer(b.short.Params(), b.short.SN)
	}

	ch4 := cfg.channelsAt(2)
	d.mean = NewDense("disc.mean", ch4, cfg.EncodingDim, true, spectral)
	d.logVar = NewDense("disc.logvar", ch4, cfg.EncodingDim, true, spectral)
	d.logit = NewDense("disc.logit", cfg.EncodingDim, 1, true, spectral)
	d.addLayer(d.mean.Params(), d.mean.SN)
	d.addLayer(d.logVar.Params(), d.logVar.SN)
	d.addLayer(d.logit.Params(), d.logit.SN)

	return d
}

func (d *Discriminator) addLayer(ps []*Param, sn *snState) {
	d.params = append(d.params, ps...)
	if sn != nil {
		d.sn = append(d.sn, sn)
	}
}

// Params returns every discriminator parameter.
func (d *Discriminator) Params() []*Param {
	return d.params
}

// Learnables returns the discriminator nodes that participated in ctx's
// forward pass.
func (d *Discriminator) Learnables(ctx *graphCtx) gorgonia.Nodes {
	return ctx.usedNodes(d.params)
}

// PowerIterate advances every spectral-norm power iteration by one step.
// Called once per discriminator optimization step.
func (d *Discriminator) PowerIterate() {
	for _, s := range d.sn {
		s.PowerIterate()
	}
}

// Build constructs a discriminator forward pass on ctx's graph for images
// x of shape (batch, 3, R, R). With reparam set, eps must be a
// (batch, EncodingDim) standard-normal input node; otherwise eps is
// ignored and the deterministic mean is used as the encoding.
func (d *Discriminator) Build(ctx *graphCtx, x *gorgonia.Node, batch int, reparam bool, eps *gorgonia.Node) (DiscOut, error) {
	var out DiscOut
	target := levelOf(d.cfg.Resolution)

	h, err := d.fromRGB[target-2].Apply(ctx, x)
	if err != nil {
		return out, err
	}
	if h, err = gorgonia.LeakyRelu(h, leakySlope); err != nil {
		return out, errors.Wrap(err, "disc rgb projection")
	}

	for i := len(d.blocks) - 1; i >= 0; i-- {
		b := d.blocks[i]
		if b.level > target {
			continue
		}
		if h, err = b.apply(ctx, h); err != nil {
			return out, err
		}
	}

	if h, err = gorgonia.LeakyRelu(h, leakySlope); err != nil {
		return out, errors.Wrap(err, "disc pool activation")
	}
	// Spatial mean instead of the pooling op: the reduction must be
	// differentiable for the training graphs.
	if h, err = gorgonia.Mean(h, 2, 3); err != nil {
		return out, errors.Wrap(err, "disc global pool")
	}
	if h, err = gorgonia.Reshape(h, tensor.Shape{batch, d.cfg.channelsAt(2)}); err != nil {
		return out, errors.Wrap(err, "disc flatten")
	}

	if out.Mean, err = d.mean.Apply(ctx, h); err != nil {
		return out, err
	}
	if out.LogVar, err = d.logVar.Apply(ctx, h); err != nil {
		return out, err
	}

	z := out.Mean
	if reparam {
		if eps == nil {
			return out, errors.New("reparameterized pass requires an eps input")
		}
		half, err := gorgonia.Mul(gorgonia.NewConstant(float32(0.5)), out.LogVar)
		if err != nil {
			return out, errors.Wrap(err, "disc encoding")
		}
		std, err := gorgonia.Exp(half)
		if err != nil {
			return out, errors.Wrap(err, "disc encoding std")
		}
		noise, err := gorgonia.HadamardProd(eps, std)
		if err != nil {
			return out, errors.Wrap(err, "disc encoding noise")
		}
		if z, err = gorgonia.Add(out.Mean, noise); err != nil {
			return out, errors.Wrap(err, "disc encoding sample")
		}
	}

	if out.Logit, err = d.logit.Apply(ctx, z); err != nil {
		return out, err
	}
	return out, nil
}

func (b *discBlock) apply(ctx *graphCtx, x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := b.conv1.Apply(ctx, x)
	if err != nil {
		return nil, err
	}
	if h, err = gorgonia.LeakyRelu(h, leakySlope); err != nil {
		return nil, errors.Wrapf(err, "disc block %d", b.level)
	}
	if h, err = b.conv2.Apply(ctx, h); err != nil {
		return nil, err
	}

	short, err := b.short.Apply(ctx, x)
	if err != nil {
		return nil, err
	}

	scaled, err := gorgonia.Mul(gorgonia.NewConstant(float32(residualScale)), h)
	if err != nil {
		return nil, errors.Wrapf(err, "disc block %d scale", b.level)
	}
	out, err := gorgonia.Add(scaled, short)
	if err != nil {
		return nil, errors.Wrapf(err, "disc block %d residual add", b.level)
	}
	return out, nil
}

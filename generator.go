package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ===========================================================================
// GENERATOR
// ===========================================================================
//
// The generator maps a batch of latent vectors to a batch of images in
// [-1,1]. A dense projection reshapes the latent into a 4x4 feature map;
// one upsampling residual block per resolution doubling grows it to the
// configured size; a per-resolution RGB head projects features to three
// channels through a tanh.
//
// The block chain is built statically up to MaxResolution. A forward pass
// walks the chain and stops as soon as it reaches the configured
// resolution, so one architecture definition serves every target size.
// Blocks beyond the stop point never materialize on any graph and their
// parameters are excluded from the learnable set (see graphCtx.usedNodes).
//
// Residual topology per block:
//
//   main:     BN -> LeakyReLU -> Upsample(2x) -> Conv3x3 -> BN -> LeakyReLU -> Conv3x3
//   shortcut: Upsample(2x) [-> Conv1x1 when the channel count changes]
//   out:      residualScale*main + shortcut
//
// ===========================================================================

// Generator holds the full block chain and all generator parameters.
type Generator struct {
	cfg    Config
	proj   *Dense
	blocks []*genBlock   // levels 3..levelOf(MaxResolution)
	heads  []*genRGBHead // index l-2 is the head for level l
	params []*Param
}

type genBlock struct {
	level int
	bn1   *BatchNorm2D
	conv1 *Conv2D
	bn2   *BatchNorm2D
	conv2 *Conv2D
	short *Conv2D // nil when input and output widths match
}

type genRGBHead struct {
	level int
	bn    *BatchNorm2D
	conv  *Conv2D
}

// NewGenerator builds the chain for cfg. Weights are allocated here;
// graphs are built later via Build.
func NewGenerator(cfg Config) *Generator {
	gen := &Generator{cfg: cfg}

	ch4 := cfg.channelsAt(2)
	gen.proj = NewDense("gen.proj", cfg.LatentDim, ch4*4*4, true, false)
	gen.params = append(gen.params, gen.proj.Params()...)

	maxLevel := levelOf(MaxResolution)
	for level := 3; level <= maxLevel; level++ {
		inC := cfg.channelsAt(level - 1)
		outC := cfg.channelsAt(level)
		name := fmt.Sprintf("gen.block%d", level)
		b := &genBlock{
			level: level,
			bn1:   NewBatchNorm2D(name+".bn1", inC),
			conv1: NewConv2D(name+".conv1", inC, outC, 3, 1, 1, false, false),
			bn2:   NewBatchNorm2D(name+".bn2", outC),
			conv2: NewConv2D(name+".conv2", outC, outC, 3, 1, 1, false, false),
		}
		if inC != outC {
			b.short = NewConv2D(name+".short", inC, outC, 1, 1, 0, false, false)
		}
		gen.blocks = append(gen.blocks, b)
		gen.params = append(gen.params, b.paramList()...)
	}

	for level := 2; level <= maxLevel; level++ {
		ch := cfg.channelsAt(level)
		name := fmt.Sprintf("gen.rgb%d", level)
		h := &genRGBHead{
			level: level,
			bn:    NewBatchNorm2D(name+".bn", ch),
			conv:  NewConv2D(name+".conv", ch, 3, 3, 1, 1, true, false),
		}
		gen.heads = append(gen.heads, h)
		gen.params = append(gen.params, h.bn.Params()...)
		gen.params = append(gen.params, h.conv.Params()...)
	}

	return gen
}

func (b *genBlock) paramList() []*Param {
	ps := append([]*Param{}, b.bn1.Params()...)
	ps = append(ps, b.conv1.Params()...)
	ps = append(ps, b.bn2.Params()...)
	ps = append(ps, b.conv2.Params()...)
	if b.short != nil {
		ps = append(ps, b.short.Params()...)
	}
	return ps
}

// Params returns every parameter in the chain, used blocks or not.
func (g *Generator) Params() []*Param {
	return g.params
}

// Learnables returns the generator nodes that participated in ctx's
// forward pass.
func (g *Generator) Learnables(ctx *graphCtx) gorgonia.Nodes {
	return ctx.usedNodes(g.params)
}

// Build constructs the generator forward pass on ctx's graph for a batch
// of latents z with shape (batch, LatentDim). The returned node has shape
// (batch, 3, R, R) for the configured resolution R.
func (g *Generator) Build(ctx *graphCtx, z *gorgonia.Node, batch int) (*gorgonia.Node, error) {
	target := levelOf(g.cfg.Resolution)

	h, err := g.proj.Apply(ctx, z)
	if err != nil {
		return nil, err
	}
	h, err = gorgonia.Reshape(h, tensor.Shape{batch, g.cfg.channelsAt(2), 4, 4})
	if err != nil {
		return nil, errors.Wrap(err, "reshaping latent projection")
	}

	for _, b := range g.blocks {
		if b.level > target {
			break
		}
		if h, err = b.apply(ctx, h); err != nil {
			return nil, err
		}
	}
	return g.heads[target-2].apply(ctx, h)
}

func (b *genBlock) apply(ctx *graphCtx, x *gorgonia.Node) (*gorgonia.Node, error) {
	// Main path.
	h, err := b.bn1.Apply(ctx, x)
	if err != nil {
		return nil, err
	}
	if h, err = gorgonia.LeakyRelu(h, leakySlope); err != nil {
		return nil, errors.Wrapf(err, "gen block %d", b.level)
	}
	if h, err = gorgonia.Upsample2D(h, 2); err != nil {
		return nil, errors.Wrapf(err, "gen block %d upsample", b.level)
	}
	if h, err = b.conv1.Apply(ctx, h); err != nil {
		return nil, err
	}
	if h, err = b.bn2.Apply(ctx, h); err != nil {
		return nil, err
	}
	if h, err = gorgonia.LeakyRelu(h, leakySlope); err != nil {
		return nil, errors.Wrapf(err, "gen block %d", b.level)
	}
	if h, err = b.conv2.Apply(ctx, h); err != nil {
		return nil, err
	}

	// Shortcut path.
	short, err := gorgonia.Upsample2D(x, 2)
	if err != nil {
		return nil, errors.Wrapf(err, "gen block %d shortcut upsample", b.level)
	}
	if b.short != nil {
		if short, err = b.short.Apply(ctx, short); err != nil {
			return nil, err
		}
	}

	scaled, err := gorgonia.Mul(gorgonia.NewConstant(float32(residualScale)), h)
	if err != nil {
		return nil, errors.Wrapf(err, "gen block %d scale", b.level)
	}
	out, err := gorgonia.Add(scaled, short)
	if err != nil {
		return nil, errors.Wrapf(err, "gen block %d residual add", b.level)
	}
	return out, nil
}

func (h *genRGBHead) apply(ctx *graphCtx, x *gorgonia.Node) (*gorgonia.Node, error) {
	y, err := h.bn.Apply(ctx, x)
	if err != nil {
		return nil, err
	}
	if y, err = gorgonia.LeakyRelu(y, leakySlope); err != nil {
		return nil, errors.Wrapf(err, "rgb head %d", h.level)
	}
	if y, err = h.conv.Apply(ctx, y); err != nil {
		return nil, err
	}
	if y, err = gorgonia.Tanh(y); err != nil {
		return nil, errors.Wrapf(err, "rgb head %d tanh", h.level)
	}
	return y, nil
}

// ===========================================================================
// CHUNKED INFERENCE
// ===========================================================================

// GenSampler generates images from latents in fixed sub-batches, so
// evaluation batches larger than the training batch never build a larger
// graph. One inference graph and tape machine are reused across chunks.
type GenSampler struct {
	gen   *Generator
	chunk int

	vm    gorgonia.VM
	input *gorgonia.Node
	out   gorgonia.Value
}

// Sampler builds the inference graph at the configured chunk size.
func (g *Generator) Sampler() (*GenSampler, error) {
	s := &GenSampler{gen: g, chunk: g.cfg.InferenceChunk}

	graph := gorgonia.NewGraph()
	ctx := newGraphCtx(graph)
	s.input = gorgonia.NewMatrix(graph, gorgonia.Float32,
		gorgonia.WithShape(s.chunk, g.cfg.LatentDim),
		gorgonia.WithName("sampler_latents"))
	img, err := g.Build(ctx, s.input, s.chunk)
	if err != nil {
		return nil, errors.Wrap(err, "building sampler graph")
	}
	gorgonia.Read(img, &s.out)
	s.vm = gorgonia.NewTapeMachine(graph)
	return s, nil
}

// Generate runs latents (n, LatentDim) through the generator chunk by
// chunk and returns images of shape (n, 3, R, R). The final chunk is
// padded internally when n is not a multiple of the chunk size.
func (s *GenSampler) Generate(latents *tensor.Dense) (*tensor.Dense, error) {
	shape := latents.Shape()
	n := shape[0]
	dim := shape[1]
	if dim != s.gen.cfg.LatentDim {
		return nil, errors.Errorf("latent dimension mismatch: got %d, want %d", dim, s.gen.cfg.LatentDim)
	}

	res := s.gen.cfg.Resolution
	imgSize := 3 * res * res
	src := latents.Data().([]float32)
	dst := make([]float32, n*imgSize)
	chunkIn := make([]float32, s.chunk*dim)

	for start := 0; start < n; start += s.chunk {
		rows := s.chunk
		if start+rows > n {
			rows = n - start
		}
		// Copy the live rows; stale tail rows are generated and dropped.
		copy(chunkIn, src[start*dim:(start+rows)*dim])
		in := tensor.New(tensor.WithShape(s.chunk, dim), tensor.WithBacking(chunkIn))
		if err := gorgonia.Let(s.input, in); err != nil {
			return nil, errors.Wrap(err, "feeding sampler latents")
		}
		if err := s.vm.RunAll(); err != nil {
			return nil, errors.Wrap(err, "running sampler")
		}
		outData := s.out.Data().([]float32)
		copy(dst[start*imgSize:(start+rows)*imgSize], outData[:rows*imgSize])
		s.vm.Reset()
	}

	return tensor.New(tensor.WithShape(n, 3, res, res), tensor.WithBacking(dst)), nil
}

// Close releases the sampler's tape machine.
func (s *GenSampler) Close() error {
	return s.vm.Close()
}

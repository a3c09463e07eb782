package main

import (
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// testConfig returns a configuration small enough for graph tests to run
// quickly while keeping the full multi-resolution topology.
func testConfig(resolution int) Config {
	cfg := DefaultConfig()
	cfg.Resolution = resolution
	cfg.BatchSize = 2
	cfg.LatentDim = 8
	cfg.EncodingDim = 4
	cfg.BaseChannels = 16
	cfg.MinChannels = 4
	cfg.InferenceChunk = 2
	return cfg
}

// runGenerator executes one generator forward pass and returns the output.
func runGenerator(t *testing.T, cfg Config, batch int, latents *tensor.Dense) *tensor.Dense {
	t.Helper()

	gen := NewGenerator(cfg)
	g := gorgonia.NewGraph()
	ctx := newGraphCtx(g)

	z := gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(batch, cfg.LatentDim), gorgonia.WithName("z"))
	img, err := gen.Build(ctx, z, batch)
	if err != nil {
		t.Fatalf("building generator at %dx%d: %v", cfg.Resolution, cfg.Resolution, err)
	}
	var out gorgonia.Value
	gorgonia.Read(img, &out)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()

	if err := gorgonia.Let(z, latents); err != nil {
		t.Fatalf("feeding latents: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("running generator at %dx%d: %v", cfg.Resolution, cfg.Resolution, err)
	}
	return out.(*tensor.Dense)
}

func checkImageBatch(t *testing.T, out *tensor.Dense, batch, res int) {
	t.Helper()
	shape := out.Shape()
	if len(shape) != 4 || shape[0] != batch || shape[1] != 3 || shape[2] != res || shape[3] != res {
		t.Fatalf("output shape = %v, want [%d 3 %d %d]", shape, batch, res, res)
	}
	for i, v := range out.Data().([]float32) {
		if v < -1 || v > 1 {
			t.Fatalf("pixel %d = %g, outside [-1,1]", i, v)
		}
	}
}

func TestGeneratorOutputShapePerResolution(t *testing.T) {
	for _, res := range []int{8, 16, 32} {
		cfg := testConfig(res)
		noise := NewNoiseSource(1)
		out := runGenerator(t, cfg, cfg.BatchSize, noise.Sample(cfg.BatchSize, cfg.LatentDim))
		checkImageBatch(t, out, cfg.BatchSize, res)
	}
}

// TestGeneratorEndToEnd is the full-scale scenario: 32 latent vectors of
// dimension 128 through the 64x64 generator.
func TestGeneratorEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-scale generator pass in short mode")
	}
	cfg := testConfig(64)
	cfg.BatchSize = 32
	cfg.LatentDim = 128

	noise := NewNoiseSource(7)
	out := runGenerator(t, cfg, 32, noise.Sample(32, 128))
	checkImageBatch(t, out, 32, 64)
}

func TestGeneratorUnusedBlocksStayOffGraph(t *testing.T) {
	cfg := testConfig(8)
	gen := NewGenerator(cfg)
	g := gorgonia.NewGraph()
	ctx := newGraphCtx(g)

	z := gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(cfg.BatchSize, cfg.LatentDim), gorgonia.WithName("z"))
	if _, err := gen.Build(ctx, z, cfg.BatchSize); err != nil {
		t.Fatalf("building generator: %v", err)
	}

	// At 8x8 only one of six blocks and one of seven RGB heads runs, so
	// the learnable set must be strictly smaller than the parameter set.
	used := len(gen.Learnables(ctx))
	total := len(gen.Params())
	if used >= total {
		t.Errorf("learnables = %d, params = %d; blocks beyond the target resolution leaked into the graph", used, total)
	}
	if used == 0 {
		t.Error("no learnables collected")
	}
}

func TestSamplerChunking(t *testing.T) {
	cfg := testConfig(8)
	gen := NewGenerator(cfg)
	sampler, err := gen.Sampler()
	if err != nil {
		t.Fatalf("building sampler: %v", err)
	}
	defer sampler.Close()

	// 5 samples through chunk size 2 exercises the padded final chunk.
	noise := NewNoiseSource(3)
	out, err := sampler.Generate(noise.Sample(5, cfg.LatentDim))
	if err != nil {
		t.Fatalf("generating: %v", err)
	}
	checkImageBatch(t, out, 5, 8)
}

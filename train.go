package main

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ===========================================================================
// TRAINING DRIVER
// ===========================================================================
//
// The driver owns the whole run: epochs -> batches -> discriminator step
// -> generator step -> periodic logging -> periodic inference snapshots.
//
// Three expression graphs are built once and reused for every step:
//
// 1. Discriminator step graph. Inputs: real images, latents, two
//    reparameterization noise batches, beta. The generator forward runs
//    in-graph so fakes are produced from the fed latents; both reals and
//    fakes are scored with the stochastic encoding. The cost is the
//    adversarial loss plus beta times the bottleneck loss (mean KL over
//    real and fake encodings, minus Ic). Only discriminator weights are
//    stepped.
//
// 2. Generator step graph. Inputs: the same latents. Fakes are scored
//    with the deterministic encoding so no discriminator-side noise
//    enters the generator's gradient path. Adversarial loss only; only
//    generator weights are stepped.
//
// 3. Chunked inference graph (GenSampler), used for evaluation snapshots
//    over fixed latents.
//
// After every discriminator step, beta takes one projected dual-ascent
// step on the observed bottleneck loss. There is no termination condition
// beyond the configured epoch bound; runs are stopped externally.
//
// ===========================================================================

// Trainer orchestrates one training run.
type Trainer struct {
	cfg    Config
	loss   LossKind
	gen    *Generator
	disc   *Discriminator
	data   *Dataset
	noise  *NoiseSource
	beta   *BetaController
	writer *SummaryWriter

	dStep   *discStepGraph
	gStep   *genStepGraph
	sampler *GenSampler

	// Fixed evaluation latents, drawn once so snapshots are comparable
	// across the run.
	evalRandom *tensor.Dense
	evalGrid   *tensor.Dense
}

// discStepGraph is the compiled discriminator optimization step.
type discStepGraph struct {
	vm         gorgonia.VM
	solver     gorgonia.Solver
	learnables gorgonia.Nodes

	realIn   *gorgonia.Node
	latentIn *gorgonia.Node
	epsReal  *gorgonia.Node
	epsFake  *gorgonia.Node
	betaIn   *gorgonia.Node

	totalVal gorgonia.Value
	advVal   gorgonia.Value
	klVal    gorgonia.Value
}

// genStepGraph is the compiled generator optimization step.
type genStepGraph struct {
	vm         gorgonia.VM
	solver     gorgonia.Solver
	learnables gorgonia.Nodes

	latentIn *gorgonia.Node

	lossVal  gorgonia.Value
	fakesVal gorgonia.Value
}

// stepMetrics carries the scalar readings of one step.
type stepMetrics struct {
	discTotal float64
	discAdv   float64
	kl        float64
	genLoss   float64
	beta      float64
}

// NewTrainer validates the config, builds both networks and all three
// graphs, and opens the run's summary writer under logRoot.
func NewTrainer(cfg Config, data *Dataset, logRoot string) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := lossKind(cfg.Loss)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:   cfg,
		loss:  kind,
		gen:   NewGenerator(cfg),
		disc:  NewDiscriminator(cfg),
		data:  data,
		noise: NewNoiseSource(cfg.Seed),
		beta:  NewBetaController(cfg),
	}

	if t.dStep, err = t.buildDiscStep(); err != nil {
		return nil, errors.Wrap(err, "building discriminator step")
	}
	if t.gStep, err = t.buildGenStep(); err != nil {
		return nil, errors.Wrap(err, "building generator step")
	}
	if t.sampler, err = t.gen.Sampler(); err != nil {
		return nil, errors.Wrap(err, "building sampler")
	}

	t.evalRandom = t.noise.Sample(64, cfg.LatentDim)
	t.evalGrid = InterpolationGrid(t.noise.Sample(4, cfg.LatentDim), 8, 8)

	if t.writer, err = NewSummaryWriter(logRoot); err != nil {
		return nil, errors.Wrap(err, "opening summary writer")
	}
	return t, nil
}

func (t *Trainer) buildDiscStep() (*discStepGraph, error) {
	cfg := t.cfg
	g := gorgonia.NewGraph()
	ctx := newGraphCtx(g)
	s := &discStepGraph{}

	s.realIn = gorgonia.NewTensor(g, gorgonia.Float32, 4,
		gorgonia.WithShape(cfg.BatchSize, 3, cfg.Resolution, cfg.Resolution),
		gorgonia.WithName("real_images"))
	s.latentIn = gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(cfg.BatchSize, cfg.LatentDim),
		gorgonia.WithName("latents"))
	s.epsReal = gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(cfg.BatchSize, cfg.EncodingDim),
		gorgonia.WithName("eps_real"))
	s.epsFake = gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(cfg.BatchSize, cfg.EncodingDim),
		gorgonia.WithName("eps_fake"))
	s.betaIn = gorgonia.NewScalar(g, gorgonia.Float32, gorgonia.WithName("beta"))

	fake, err := t.gen.Build(ctx, s.latentIn, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	realOut, err := t.disc.Build(ctx, s.realIn, cfg.BatchSize, true, s.epsReal)
	if err != nil {
		return nil, err
	}
	fakeOut, err := t.disc.Build(ctx, fake, cfg.BatchSize, true, s.epsFake)
	if err != nil {
		return nil, err
	}

	adv, err := DiscriminatorLoss(t.loss, realOut.Logit, fakeOut.Logit)
	if err != nil {
		return nil, err
	}

	// Bottleneck penalty over the real/fake mixture.
	klReal, err := KLToStandardNormal(realOut.Mean, realOut.LogVar)
	if err != nil {
		return nil, err
	}
	klFake, err := KLToStandardNormal(fakeOut.Mean, fakeOut.LogVar)
	if err != nil {
		return nil, err
	}
	klSum, err := gorgonia.Add(klReal, klFake)
	if err != nil {
		return nil, errors.Wrap(err, "kl mixture")
	}
	kl, err := gorgonia.Mul(gorgonia.NewConstant(float32(0.5)), klSum)
	if err != nil {
		return nil, errors.Wrap(err, "kl mixture mean")
	}
	bottleneck, err := gorgonia.Sub(kl, gorgonia.NewConstant(float32(cfg.Ic)))
	if err != nil {
		return nil, errors.Wrap(err, "bottleneck loss")
	}
	penalty, err := gorgonia.Mul(s.betaIn, bottleneck)
	if err != nil {
		return nil, errors.Wrap(err, "bottleneck penalty")
	}
	total, err := gorgonia.Add(adv, penalty)
	if err != nil {
		return nil, errors.Wrap(err, "discriminator cost")
	}

	gorgonia.Read(total, &s.totalVal)
	gorgonia.Read(adv, &s.advVal)
	gorgonia.Read(kl, &s.klVal)

	s.learnables = t.disc.Learnables(ctx)
	if _, err := gorgonia.Grad(total, s.learnables...); err != nil {
		return nil, errors.Wrap(err, "discriminator gradients")
	}

	s.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(s.learnables...))
	s.solver = gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(cfg.DiscLearningRate),
		gorgonia.WithBeta1(cfg.AdamBeta1),
		gorgonia.WithBeta2(cfg.AdamBeta2))
	return s, nil
}

func (t *Trainer) buildGenStep() (*genStepGraph, error) {
	cfg := t.cfg
	g := gorgonia.NewGraph()
	ctx := newGraphCtx(g)
	s := &genStepGraph{}

	s.latentIn = gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(cfg.BatchSize, cfg.LatentDim),
		gorgonia.WithName("latents"))

	fake, err := t.gen.Build(ctx, s.latentIn, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	fakeOut, err := t.disc.Build(ctx, fake, cfg.BatchSize, false, nil)
	if err != nil {
		return nil, err
	}
	loss, err := GeneratorLoss(t.loss, fakeOut.Logit)
	if err != nil {
		return nil, err
	}

	gorgonia.Read(loss, &s.lossVal)
	gorgonia.Read(fake, &s.fakesVal)

	s.learnables = t.gen.Learnables(ctx)
	if _, err := gorgonia.Grad(loss, s.learnables...); err != nil {
		return nil, errors.Wrap(err, "generator gradients")
	}

	s.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(s.learnables...))
	s.solver = gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(cfg.GenLearningRate),
		gorgonia.WithBeta1(cfg.AdamBeta1),
		gorgonia.WithBeta2(cfg.AdamBeta2))
	return s, nil
}

// Run executes the full training schedule. It returns on the epoch bound
// or the first unrecoverable error; there is no retry or recovery.
func (t *Trainer) Run() error {
	cfg := t.cfg
	if err := cfg.SaveJSON(filepath.Join(t.writer.Dir(), "config.json")); err != nil {
		return errors.Wrap(err, "saving config snapshot")
	}

	fmt.Printf("Training VGAN at %dx%d on %d images\n", cfg.Resolution, cfg.Resolution, t.data.Len())
	fmt.Printf("Run directory: %s\n", t.writer.Dir())

	step := 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for _, indices := range t.data.EpochBatches(cfg.BatchSize) {
			real := t.data.MakeBatch(indices, true)
			latents := t.noise.Sample(cfg.BatchSize, cfg.LatentDim)

			m, err := t.discStep(real, latents)
			if err != nil {
				return errors.Wrapf(err, "discriminator step %d", step)
			}
			// Same latents: the generator pushes the exact fakes the
			// discriminator was just trained against.
			if m.genLoss, err = t.genStep(latents); err != nil {
				return errors.Wrapf(err, "generator step %d", step)
			}
			step++

			if step%cfg.LogInterval == 0 {
				if err := t.logStep(epoch, step, m); err != nil {
					return err
				}
			}
			if step%cfg.SnapshotInterval == 0 {
				if err := t.snapshot(step); err != nil {
					return errors.Wrapf(err, "snapshot at step %d", step)
				}
			}
		}
	}

	if err := t.snapshot(step); err != nil {
		return errors.Wrap(err, "final snapshot")
	}
	return t.writer.Flush()
}

// discStep runs one discriminator optimization step and the beta update.
func (t *Trainer) discStep(real, latents *tensor.Dense) (stepMetrics, error) {
	cfg := t.cfg
	s := t.dStep
	var m stepMetrics

	if cfg.SpectralNorm {
		t.disc.PowerIterate()
	}

	if err := gorgonia.Let(s.realIn, real); err != nil {
		return m, errors.Wrap(err, "feeding real images")
	}
	if err := gorgonia.Let(s.latentIn, latents); err != nil {
		return m, errors.Wrap(err, "feeding latents")
	}
	if err := gorgonia.Let(s.epsReal, t.noise.Sample(cfg.BatchSize, cfg.EncodingDim)); err != nil {
		return m, errors.Wrap(err, "feeding real eps")
	}
	if err := gorgonia.Let(s.epsFake, t.noise.Sample(cfg.BatchSize, cfg.EncodingDim)); err != nil {
		return m, errors.Wrap(err, "feeding fake eps")
	}
	if err := gorgonia.Let(s.betaIn, float32(t.beta.Beta)); err != nil {
		return m, errors.Wrap(err, "feeding beta")
	}

	if err := s.vm.RunAll(); err != nil {
		return m, err
	}
	if err := s.solver.Step(gorgonia.NodesToValueGrads(s.learnables)); err != nil {
		return m, err
	}
	s.vm.Reset()

	m.discTotal = scalarFloat(s.totalVal)
	m.discAdv = scalarFloat(s.advVal)
	m.kl = scalarFloat(s.klVal)

	// Dual ascent on the Lagrange multiplier, outside any gradient graph.
	m.beta = t.beta.Update(m.kl - cfg.Ic)
	return m, nil
}

// genStep runs one generator optimization step on the same latents.
func (t *Trainer) genStep(latents *tensor.Dense) (float64, error) {
	s := t.gStep
	if err := gorgonia.Let(s.latentIn, latents); err != nil {
		return 0, errors.Wrap(err, "feeding latents")
	}
	if err := s.vm.RunAll(); err != nil {
		return 0, err
	}
	if err := s.solver.Step(gorgonia.NodesToValueGrads(s.learnables)); err != nil {
		return 0, err
	}
	s.vm.Reset()
	return scalarFloat(s.lossVal), nil
}

// logStep persists scalar metrics and the current fake grid, then
// flushes.
func (t *Trainer) logStep(epoch, step int, m stepMetrics) error {
	fmt.Printf("epoch %d step %d | D %.4f (adv %.4f) G %.4f | KL %.4f beta %.6g\n",
		epoch, step, m.discTotal, m.discAdv, m.genLoss, m.kl, m.beta)

	t.writer.AddScalar(step, "loss/discriminator", m.discTotal)
	t.writer.AddScalar(step, "loss/discriminator_adv", m.discAdv)
	t.writer.AddScalar(step, "loss/generator", m.genLoss)
	t.writer.AddScalar(step, "bottleneck/kl", m.kl)
	t.writer.AddScalar(step, "bottleneck/constraint", m.kl-t.cfg.Ic)
	t.writer.AddScalar(step, "bottleneck/beta", m.beta)

	cols := 8
	if t.cfg.BatchSize < cols {
		cols = t.cfg.BatchSize
	}
	if fakes, ok := t.gStep.fakesVal.(*tensor.Dense); ok {
		if err := t.writer.AddImageGrid(step, "train_fakes", fakes, cols); err != nil {
			return errors.Wrap(err, "writing fake grid")
		}
	}
	return t.writer.Flush()
}

// snapshot runs the chunked inference pass over the fixed evaluation
// latents and logs both grids.
func (t *Trainer) snapshot(step int) error {
	random, err := t.sampler.Generate(t.evalRandom)
	if err != nil {
		return err
	}
	if err := t.writer.AddImageGrid(step, "snapshot_random", random, 8); err != nil {
		return err
	}

	interp, err := t.sampler.Generate(t.evalGrid)
	if err != nil {
		return err
	}
	if err := t.writer.AddImageGrid(step, "snapshot_interpolation", interp, 8); err != nil {
		return err
	}
	return t.writer.Flush()
}

// Close releases the tape machines and the summary writer.
func (t *Trainer) Close() error {
	t.dStep.vm.Close()
	t.gStep.vm.Close()
	t.sampler.Close()
	return t.writer.Close()
}

// scalarFloat extracts a scalar reading from a gorgonia value.
func scalarFloat(v gorgonia.Value) float64 {
	if v == nil {
		return 0
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d)
	case float64:
		return d
	default:
		return 0
	}
}

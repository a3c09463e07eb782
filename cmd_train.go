package main

import (
	"flag"
	"fmt"
)

// ===========================================================================
// TRAINING CLI
// ===========================================================================
//
// The train command wires the full pipeline together: parse flags, load
// and preprocess the image directory, build the networks and graphs, and
// hand control to the Trainer. The image directory is the single required
// positional argument; a missing directory prints the usage message and
// exits nonzero, which is the only explicit user-facing error path. Every
// other failure propagates as a fatal error.
//
// ===========================================================================

// RunTrainCommand implements the train subcommand.
func RunTrainCommand(args []string) error {
	def := DefaultConfig()
	fs := flag.NewFlagSet("train", flag.ExitOnError)

	// Loss and bottleneck
	loss := fs.String("loss", def.Loss, "Adversarial loss: nonsaturating or hinge")
	ic := fs.Float64("ic", def.Ic, "Information capacity budget (target KL)")
	alpha := fs.Float64("alpha", def.Alpha, "Dual-ascent rate for beta")
	initialBeta := fs.Float64("beta0", def.InitialBeta, "Initial bottleneck multiplier")

	// Geometry
	resolution := fs.Int("resolution", def.Resolution, "Image resolution (power of two, 4-256)")
	latentDim := fs.Int("latent", def.LatentDim, "Latent vector dimension")
	encodingDim := fs.Int("encoding", def.EncodingDim, "Discriminator encoding dimension")
	baseChannels := fs.Int("base-channels", def.BaseChannels, "Feature width at 4x4")
	minChannels := fs.Int("min-channels", def.MinChannels, "Feature width floor")
	spectral := fs.Bool("spectral-norm", def.SpectralNorm, "Spectral-normalize the discriminator")

	// Optimization
	batchSize := fs.Int("batch", def.BatchSize, "Training batch size")
	genLR := fs.Float64("gen-lr", def.GenLearningRate, "Generator learning rate")
	discLR := fs.Float64("disc-lr", def.DiscLearningRate, "Discriminator learning rate")
	epochs := fs.Int("epochs", def.Epochs, "Epoch bound (runs are usually stopped externally)")
	seed := fs.Uint64("seed", def.Seed, "Latent/augmentation seed")

	// Logging
	logRoot := fs.String("logdir", "runs", "Root directory for run logs")
	logInterval := fs.Int("log-interval", def.LogInterval, "Steps between scalar/grid logs")
	snapInterval := fs.Int("snapshot-interval", def.SnapshotInterval, "Steps between inference snapshots")
	chunk := fs.Int("inference-chunk", def.InferenceChunk, "Sub-batch size for evaluation inference")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one positional argument: the training image directory")
	}
	dataDir := fs.Arg(0)

	cfg := Config{
		Loss:             *loss,
		Resolution:       *resolution,
		BatchSize:        *batchSize,
		LatentDim:        *latentDim,
		EncodingDim:      *encodingDim,
		BaseChannels:     *baseChannels,
		MinChannels:      *minChannels,
		GenLearningRate:  *genLR,
		DiscLearningRate: *discLR,
		AdamBeta1:        def.AdamBeta1,
		AdamBeta2:        def.AdamBeta2,
		Ic:               *ic,
		Alpha:            *alpha,
		InitialBeta:      *initialBeta,
		SpectralNorm:     *spectral,
		Epochs:           *epochs,
		LogInterval:      *logInterval,
		SnapshotInterval: *snapInterval,
		InferenceChunk:   *chunk,
		Seed:             *seed,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("Loading images from %s at %dx%d\n", dataDir, cfg.Resolution, cfg.Resolution)
	data, err := LoadDataset(dataDir, cfg.Resolution, cfg.Seed)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	fmt.Printf("  %d images loaded\n", data.Len())

	trainer, err := NewTrainer(cfg, data, *logRoot)
	if err != nil {
		return err
	}
	defer trainer.Close()

	return trainer.Run()
}

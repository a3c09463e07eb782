package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// ===========================================================================
// RUN CONFIGURATION
// ===========================================================================
//
// Everything that shapes a training run lives in Config: the loss
// formulation, the network geometry, the bottleneck budget, and the
// logging cadence. The struct is created once in the train command,
// validated, serialized as JSON into the run directory, and never
// mutated afterwards. All run-time training state (beta, optimizer
// moments, spectral-norm power vectors) lives elsewhere.
//
// ===========================================================================

// MaxResolution is the largest image resolution the network topology
// supports. Generator and discriminator block chains are built statically
// up to this size; a run at a smaller configured resolution short-circuits
// through the same chain.
const MaxResolution = 256

// Config is the immutable description of a training run.
type Config struct {
	// Loss selects the adversarial loss formulation:
	// "nonsaturating" or "hinge". Fixed for the run.
	Loss string `json:"loss"`

	// Data and geometry.
	Resolution  int `json:"resolution"`   // output image size, power of two in [4, 256]
	BatchSize   int `json:"batch_size"`   // training mini-batch size
	LatentDim   int `json:"latent_dim"`   // generator input dimension
	EncodingDim int `json:"encoding_dim"` // discriminator encoding dimension

	// Channel schedule. BaseChannels is the feature width at 4x4; it
	// halves at every resolution doubling down to MinChannels.
	BaseChannels int `json:"base_channels"`
	MinChannels  int `json:"min_channels"`

	// Per-network optimizer settings.
	GenLearningRate  float64 `json:"gen_learning_rate"`
	DiscLearningRate float64 `json:"disc_learning_rate"`
	AdamBeta1        float64 `json:"adam_beta1"`
	AdamBeta2        float64 `json:"adam_beta2"`

	// Information bottleneck.
	Ic          float64 `json:"information_capacity"` // target KL budget
	Alpha       float64 `json:"alpha"`                // dual-ascent rate for beta
	InitialBeta float64 `json:"initial_beta"`

	// SpectralNorm toggles spectral normalization of all discriminator
	// weights.
	SpectralNorm bool `json:"spectral_norm"`

	// Schedule. Epochs is a large fixed bound; runs are expected to be
	// stopped externally.
	Epochs           int `json:"epochs"`
	LogInterval      int `json:"log_interval"`      // steps between scalar/grid logs
	SnapshotInterval int `json:"snapshot_interval"` // steps between inference snapshots

	// InferenceChunk is the fixed sub-batch size used when generating
	// evaluation batches larger than the training batch.
	InferenceChunk int `json:"inference_chunk"`

	// Seed for latent and augmentation sampling.
	Seed uint64 `json:"seed"`
}

// DefaultConfig returns the settings used for the reference runs.
func DefaultConfig() Config {
	return Config{
		Loss:             "nonsaturating",
		Resolution:       64,
		BatchSize:        32,
		LatentDim:        128,
		EncodingDim:      128,
		BaseChannels:     256,
		MinChannels:      16,
		GenLearningRate:  2e-4,
		DiscLearningRate: 2e-4,
		AdamBeta1:        0.0,
		AdamBeta2:        0.9,
		Ic:               0.2,
		Alpha:            1e-5,
		InitialBeta:      0.0,
		SpectralNorm:     true,
		Epochs:           1000000,
		LogInterval:      100,
		SnapshotInterval: 1000,
		InferenceChunk:   16,
		Seed:             42,
	}
}

// Validate checks the configuration for values the networks cannot be
// built from. It is called once before any graph construction.
func (c Config) Validate() error {
	if c.Resolution < 4 || c.Resolution > MaxResolution || !isPowerOfTwo(c.Resolution) {
		return fmt.Errorf("resolution must be a power of two in [4, %d], got %d", MaxResolution, c.Resolution)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LatentDim < 1 {
		return fmt.Errorf("latent dimension must be positive, got %d", c.LatentDim)
	}
	if c.EncodingDim < 1 {
		return fmt.Errorf("encoding dimension must be positive, got %d", c.EncodingDim)
	}
	if c.BaseChannels < c.MinChannels || c.MinChannels < 1 {
		return fmt.Errorf("channel schedule %d..%d is invalid", c.MinChannels, c.BaseChannels)
	}
	if c.InferenceChunk < 1 {
		return fmt.Errorf("inference chunk must be positive, got %d", c.InferenceChunk)
	}
	if _, err := lossKind(c.Loss); err != nil {
		return err
	}
	return nil
}

// SaveJSON writes the configuration snapshot next to the run's logs.
func (c Config) SaveJSON(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// levelOf maps a resolution to its doubling level: 4 -> 2, 8 -> 3, ...
// 256 -> 8.
func levelOf(resolution int) int {
	level := 0
	for r := resolution; r > 1; r >>= 1 {
		level++
	}
	return level
}

// channelsAt returns the feature width at a given resolution level. The
// width halves per doubling from BaseChannels at 4x4, floored at
// MinChannels.
func (c Config) channelsAt(level int) int {
	ch := c.BaseChannels >> (level - 2)
	if ch < c.MinChannels {
		ch = c.MinChannels
	}
	return ch
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

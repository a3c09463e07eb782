package main

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ===========================================================================
// INFORMATION BOTTLENECK
// ===========================================================================
//
// The variational discriminator bottleneck penalizes the mutual
// information between images and the discriminator's stochastic encoding.
// Per batch the penalty is the KL divergence of the encoding against a
// standard normal prior:
//
//   KL = mean_batch( 0.5 * sum_dim( mean^2 + exp(logVar) - logVar - 1 ) )
//
// The constraint KL <= Ic is enforced with a Lagrange multiplier beta that
// is adapted by dual gradient ascent:
//
//   beta <- max(0, beta + alpha*(KL - Ic))
//
// The beta update is a plain host-side assignment, never part of any
// gradient graph; beta enters the discriminator loss as a fed scalar. The
// projection at zero keeps the penalty from ever rewarding constraint
// violation in reverse.
//
// ===========================================================================

// KLToStandardNormal builds the batch-mean KL divergence node between the
// encoding N(mean, exp(logVar)) and N(0, I). The result is a scalar node,
// non-negative, exactly zero at mean=0, logVar=0.
func KLToStandardNormal(mean, logVar *gorgonia.Node) (*gorgonia.Node, error) {
	m2, err := gorgonia.Square(mean)
	if err != nil {
		return nil, errors.Wrap(err, "kl mean^2")
	}
	ev, err := gorgonia.Exp(logVar)
	if err != nil {
		return nil, errors.Wrap(err, "kl exp(logVar)")
	}
	t, err := gorgonia.Add(m2, ev)
	if err != nil {
		return nil, errors.Wrap(err, "kl sum terms")
	}
	if t, err = gorgonia.Sub(t, logVar); err != nil {
		return nil, errors.Wrap(err, "kl subtract logVar")
	}
	if t, err = gorgonia.Sub(t, gorgonia.NewConstant(float32(1.0))); err != nil {
		return nil, errors.Wrap(err, "kl subtract one")
	}
	perSample, err := gorgonia.Sum(t, 1)
	if err != nil {
		return nil, errors.Wrap(err, "kl sum over dims")
	}
	kl, err := gorgonia.Mean(perSample)
	if err != nil {
		return nil, errors.Wrap(err, "kl batch mean")
	}
	return gorgonia.Mul(gorgonia.NewConstant(float32(0.5)), kl)
}

// BetaController holds the bottleneck multiplier and its dual-ascent
// schedule. Beta persists for the whole run and is never checkpointed.
type BetaController struct {
	Beta  float64
	Alpha float64
}

// NewBetaController starts beta at its configured initial value.
func NewBetaController(cfg Config) *BetaController {
	return &BetaController{Beta: cfg.InitialBeta, Alpha: cfg.Alpha}
}

// Update applies one projected dual-ascent step for the observed
// bottleneck loss (KL - Ic) and returns the new beta. The projection at
// zero guarantees beta never goes negative.
func (b *BetaController) Update(bottleneckLoss float64) float64 {
	b.Beta += b.Alpha * bottleneckLoss
	if b.Beta < 0 {
		b.Beta = 0
	}
	return b.Beta
}

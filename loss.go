package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ===========================================================================
// ADVERSARIAL LOSSES
// ===========================================================================
//
// The loss formulation is a configuration choice, fixed for the run.
//
// Non-saturating:
//   D: mean softplus(-real) + mean softplus(fake)
//   G: mean softplus(-fake)
//
// Hinge:
//   D: mean relu(1 - real) + mean relu(1 + fake)
//   G: -mean fake
//
// ===========================================================================

// LossKind identifies an adversarial loss formulation.
type LossKind int

const (
	LossNonSaturating LossKind = iota
	LossHinge
)

// lossKind parses the config string.
func lossKind(s string) (LossKind, error) {
	switch s {
	case "nonsaturating":
		return LossNonSaturating, nil
	case "hinge":
		return LossHinge, nil
	default:
		return 0, fmt.Errorf("unknown loss %q (want \"nonsaturating\" or \"hinge\")", s)
	}
}

// DiscriminatorLoss builds the adversarial discriminator loss node from
// real and fake logits, each of shape (batch, 1).
func DiscriminatorLoss(kind LossKind, real, fake *gorgonia.Node) (*gorgonia.Node, error) {
	switch kind {
	case LossNonSaturating:
		negReal, err := gorgonia.Neg(real)
		if err != nil {
			return nil, errors.Wrap(err, "disc loss")
		}
		realTerm, err := meanSoftplus(negReal)
		if err != nil {
			return nil, err
		}
		fakeTerm, err := meanSoftplus(fake)
		if err != nil {
			return nil, err
		}
		return gorgonia.Add(realTerm, fakeTerm)

	case LossHinge:
		realMargin, err := gorgonia.Sub(gorgonia.NewConstant(float32(1.0)), real)
		if err != nil {
			return nil, errors.Wrap(err, "disc hinge loss")
		}
		realTerm, err := meanRelu(realMargin)
		if err != nil {
			return nil, err
		}
		fakeMargin, err := gorgonia.Add(gorgonia.NewConstant(float32(1.0)), fake)
		if err != nil {
			return nil, errors.Wrap(err, "disc hinge loss")
		}
		fakeTerm, err := meanRelu(fakeMargin)
		if err != nil {
			return nil, err
		}
		return gorgonia.Add(realTerm, fakeTerm)

	default:
		return nil, errors.Errorf("unhandled loss kind %d", kind)
	}
}

// GeneratorLoss builds the adversarial generator loss node from fake
// logits of shape (batch, 1).
func GeneratorLoss(kind LossKind, fake *gorgonia.Node) (*gorgonia.Node, error) {
	switch kind {
	case LossNonSaturating:
		negFake, err := gorgonia.Neg(fake)
		if err != nil {
			return nil, errors.Wrap(err, "gen loss")
		}
		return meanSoftplus(negFake)

	case LossHinge:
		m, err := gorgonia.Mean(fake)
		if err != nil {
			return nil, errors.Wrap(err, "gen hinge loss")
		}
		return gorgonia.Neg(m)

	default:
		return nil, errors.Errorf("unhandled loss kind %d", kind)
	}
}

func meanSoftplus(x *gorgonia.Node) (*gorgonia.Node, error) {
	sp, err := gorgonia.Softplus(x)
	if err != nil {
		return nil, errors.Wrap(err, "softplus")
	}
	return gorgonia.Mean(sp)
}

func meanRelu(x *gorgonia.Node) (*gorgonia.Node, error) {
	r, err := gorgonia.Rectify(x)
	if err != nil {
		return nil, errors.Wrap(err, "relu")
	}
	return gorgonia.Mean(r)
}

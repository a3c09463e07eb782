package main

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runLosses evaluates discriminator and generator losses for fixed logits.
func runLosses(t *testing.T, kind LossKind, real, fake []float32) (dLoss, gLoss float64) {
	t.Helper()
	batch := len(real)

	g := gorgonia.NewGraph()
	realIn := gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(batch, 1), gorgonia.WithName("real_logits"))
	fakeIn := gorgonia.NewMatrix(g, gorgonia.Float32,
		gorgonia.WithShape(batch, 1), gorgonia.WithName("fake_logits"))

	d, err := DiscriminatorLoss(kind, realIn, fakeIn)
	if err != nil {
		t.Fatalf("building discriminator loss: %v", err)
	}
	gl, err := GeneratorLoss(kind, fakeIn)
	if err != nil {
		t.Fatalf("building generator loss: %v", err)
	}
	var dOut, gOut gorgonia.Value
	gorgonia.Read(d, &dOut)
	gorgonia.Read(gl, &gOut)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()

	if err := gorgonia.Let(realIn, tensor.New(tensor.WithShape(batch, 1), tensor.WithBacking(real))); err != nil {
		t.Fatalf("feeding real logits: %v", err)
	}
	if err := gorgonia.Let(fakeIn, tensor.New(tensor.WithShape(batch, 1), tensor.WithBacking(fake))); err != nil {
		t.Fatalf("feeding fake logits: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("running loss graph: %v", err)
	}
	return scalarFloat(dOut), scalarFloat(gOut)
}

func softplus(x float64) float64 {
	return math.Log(1 + math.Exp(x))
}

func TestNonSaturatingLoss(t *testing.T) {
	real := []float32{0.5, -0.5}
	fake := []float32{0.25, -0.25}
	dLoss, gLoss := runLosses(t, LossNonSaturating, real, fake)

	wantD := (softplus(-0.5)+softplus(0.5))/2 + (softplus(0.25)+softplus(-0.25))/2
	wantG := (softplus(-0.25) + softplus(0.25)) / 2

	if math.Abs(dLoss-wantD) > 1e-4 {
		t.Errorf("discriminator loss = %g, want %g", dLoss, wantD)
	}
	if math.Abs(gLoss-wantG) > 1e-4 {
		t.Errorf("generator loss = %g, want %g", gLoss, wantG)
	}
}

func TestHingeLoss(t *testing.T) {
	real := []float32{0.5, -0.5}
	fake := []float32{0.25, -0.25}
	dLoss, gLoss := runLosses(t, LossHinge, real, fake)

	// relu(1-r): 0.5, 1.5 -> mean 1.0; relu(1+f): 1.25, 0.75 -> mean 1.0.
	if math.Abs(dLoss-2.0) > 1e-4 {
		t.Errorf("discriminator hinge loss = %g, want 2.0", dLoss)
	}
	// -mean(fake) = 0 for this symmetric pair.
	if math.Abs(gLoss) > 1e-4 {
		t.Errorf("generator hinge loss = %g, want 0", gLoss)
	}
}

func TestLossKindParsing(t *testing.T) {
	if k, err := lossKind("nonsaturating"); err != nil || k != LossNonSaturating {
		t.Errorf("lossKind(nonsaturating) = %v, %v", k, err)
	}
	if k, err := lossKind("hinge"); err != nil || k != LossHinge {
		t.Errorf("lossKind(hinge) = %v, %v", k, err)
	}
	if _, err := lossKind("leastsquares"); err == nil {
		t.Error("expected error for unknown loss kind")
	}
}

package training

import (
	"testing"

	"github.com/tsawler/go-finetune/tensor"
)

func paramWithGrad(t *testing.T, values, grads []float32) *tensor.Tensor {
	t.Helper()

	p, err := tensor.NewTensor([]int{len(values)}, tensor.Float32, tensor.CPU, values)
	if err != nil {
		t.Fatalf("Failed to create parameter: %v", err)
	}
	p.SetRequiresGrad(true)

	g, err := tensor.NewTensor([]int{len(grads)}, tensor.Float32, tensor.CPU, grads)
	if err != nil {
		t.Fatalf("Failed to create gradient: %v", err)
	}
	if err := p.AccumulateGrad(g); err != nil {
		t.Fatalf("Failed to set gradient: %v", err)
	}
	return p
}

func TestSGDStep(t *testing.T) {
	t.Run("Plain SGD", func(t *testing.T) {
		p := paramWithGrad(t, []float32{1, 2}, []float32{0.5, 1.0})
		sgd, err := NewSGD([]*tensor.Tensor{p}, SGDConfig{LearningRate: 0.1})
		if err != nil {
			t.Fatalf("NewSGD failed: %v", err)
		}

		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}

		data := p.Data.([]float32)
		if !almostEqual(data[0], 0.95) || !almostEqual(data[1], 1.9) {
			t.Errorf("Expected [0.95 1.9], got %v", data)
		}
	})

	t.Run("Momentum accumulates", func(t *testing.T) {
		p := paramWithGrad(t, []float32{0}, []float32{1})
		sgd, err := NewSGD([]*tensor.Tensor{p}, SGDConfig{LearningRate: 0.1, Momentum: 0.9})
		if err != nil {
			t.Fatalf("NewSGD failed: %v", err)
		}

		// First step: buffer = grad, update = -0.1.
		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		data := p.Data.([]float32)
		if !almostEqual(data[0], -0.1) {
			t.Errorf("After first step expected -0.1, got %f", data[0])
		}

		// Second step with same grad: buffer = 0.9 + 1 = 1.9.
		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if !almostEqual(data[0], -0.29) {
			t.Errorf("After second step expected -0.29, got %f", data[0])
		}
	})

	t.Run("Frozen parameter untouched", func(t *testing.T) {
		frozen, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{5, 5})
		live := paramWithGrad(t, []float32{1}, []float32{1})

		sgd, err := NewSGD([]*tensor.Tensor{frozen, live}, SGDConfig{LearningRate: 0.1})
		if err != nil {
			t.Fatalf("NewSGD failed: %v", err)
		}
		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}

		data := frozen.Data.([]float32)
		if data[0] != 5 || data[1] != 5 {
			t.Errorf("Frozen parameter changed: %v", data)
		}
	})

	t.Run("ZeroGrad clears gradients", func(t *testing.T) {
		p := paramWithGrad(t, []float32{1}, []float32{1})
		sgd, _ := NewSGD([]*tensor.Tensor{p}, SGDConfig{LearningRate: 0.1})

		sgd.ZeroGrad()
		if p.Grad() != nil {
			t.Error("Expected gradient cleared")
		}

		// A step with no gradient is a no-op.
		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if p.Data.([]float32)[0] != 1 {
			t.Error("Parameter changed without a gradient")
		}
	})

	t.Run("Learning rate adjustable", func(t *testing.T) {
		p := paramWithGrad(t, []float32{1}, []float32{1})
		sgd, _ := NewSGD([]*tensor.Tensor{p}, SGDConfig{LearningRate: 0.1})

		sgd.SetLR(0.5)
		if sgd.GetLR() != 0.5 {
			t.Errorf("Expected lr 0.5, got %f", sgd.GetLR())
		}
	})

	t.Run("Invalid config rejected", func(t *testing.T) {
		p := paramWithGrad(t, []float32{1}, []float32{1})

		if _, err := NewSGD(nil, DefaultSGDConfig()); err == nil {
			t.Error("Expected error for empty parameter list")
		}
		if _, err := NewSGD([]*tensor.Tensor{p}, SGDConfig{LearningRate: -1}); err == nil {
			t.Error("Expected error for negative learning rate")
		}
	})
}

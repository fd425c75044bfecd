package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-finetune/tensor"
)

func TestCrossEntropyLoss(t *testing.T) {
	defer tensor.SetGradEnabled(true)
	tensor.SetGradEnabled(true)

	t.Run("Uniform logits", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 4}, tensor.Float32, tensor.CPU, []float32{
			0, 0, 0, 0,
			0, 0, 0, 0,
		})
		labels, _ := tensor.NewTensor([]int{2}, tensor.Int32, tensor.CPU, []int32{1, 3})

		loss, err := CrossEntropyLoss(logits, labels)
		if err != nil {
			t.Fatalf("CrossEntropyLoss failed: %v", err)
		}

		val, _ := loss.Item()
		expected := float32(math.Log(4))
		if math.Abs(float64(val.(float32)-expected)) > 1e-4 {
			t.Errorf("Expected loss ln(4)=%f, got %f", expected, val)
		}
	})

	t.Run("Confident correct prediction", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{10, -10})
		labels, _ := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{0})

		loss, err := CrossEntropyLoss(logits, labels)
		if err != nil {
			t.Fatalf("CrossEntropyLoss failed: %v", err)
		}

		val, _ := loss.Item()
		if val.(float32) > 0.001 {
			t.Errorf("Expected near-zero loss, got %f", val)
		}
	})

	t.Run("Gradient is softmax minus onehot over batch", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{
			0, 0,
			0, 0,
		})
		logits.SetRequiresGrad(true)
		labels, _ := tensor.NewTensor([]int{2}, tensor.Int32, tensor.CPU, []int32{0, 1})

		loss, err := CrossEntropyLoss(logits, labels)
		if err != nil {
			t.Fatalf("CrossEntropyLoss failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		grad := logits.Grad().Data.([]float32)
		// Softmax is 0.5 everywhere; (0.5 - onehot) / 2.
		expected := []float32{-0.25, 0.25, 0.25, -0.25}
		for i := range expected {
			if math.Abs(float64(grad[i]-expected[i])) > 1e-5 {
				t.Errorf("grad[%d]: expected %f, got %f", i, expected[i], grad[i])
			}
		}
	})

	t.Run("Label out of range", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{0, 0})
		labels, _ := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{5})

		if _, err := CrossEntropyLoss(logits, labels); err == nil {
			t.Error("Expected error for out-of-range label")
		}
	})

	t.Run("No graph during validation", func(t *testing.T) {
		tensor.SetGradEnabled(false)
		defer tensor.SetGradEnabled(true)

		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, tensor.CPU, []float32{1, 2})
		logits.SetRequiresGrad(true)
		labels, _ := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{0})

		loss, err := CrossEntropyLoss(logits, labels)
		if err != nil {
			t.Fatalf("CrossEntropyLoss failed: %v", err)
		}
		if loss.Creator() != nil {
			t.Error("Expected no backward graph with gradients disabled")
		}
	})
}

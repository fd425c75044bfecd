package tensor

import (
	"fmt"
)

// Backward runs reverse-mode differentiation from a scalar output,
// accumulating gradients into every reachable leaf tensor that has
// gradient tracking enabled.
func (t *Tensor) Backward() error {
	if t.DType != Float32 {
		return fmt.Errorf("backward requires a Float32 output, got %s", t.DType)
	}
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar output, got shape %v", t.Shape)
	}
	if t.creator == nil && !t.requiresGrad {
		return fmt.Errorf("backward called on a tensor outside the graph")
	}

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return err
	}
	return t.backward(seed)
}

func (t *Tensor) backward(seed *Tensor) error {
	// Topological order over the creator graph; gradients are processed
	// in reverse so every node sees its full output gradient exactly
	// once.
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if node == nil || visited[node] {
			return
		}
		visited[node] = true
		if node.creator != nil {
			for _, in := range node.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, node)
	}
	visit(t)

	grads := map[*Tensor]*Tensor{t: seed}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		grad := grads[node]
		if grad == nil {
			continue
		}

		if node.creator == nil {
			if node.requiresGrad {
				if err := node.AccumulateGrad(grad); err != nil {
					return err
				}
			}
			continue
		}

		inputGrads, err := node.creator.Backward(grad)
		if err != nil {
			return fmt.Errorf("backward pass failed: %w", err)
		}

		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for j, in := range inputs {
			ig := inputGrads[j]
			if in == nil || ig == nil {
				continue
			}
			if existing := grads[in]; existing != nil {
				summed, err := Add(existing, ig)
				if err != nil {
					return fmt.Errorf("gradient accumulation failed: %w", err)
				}
				grads[in] = summed
			} else {
				grads[in] = ig
			}
		}
	}

	return nil
}

// AccumulateGrad adds grad into the tensor's stored gradient, allocating
// it on first use.
func (t *Tensor) AccumulateGrad(grad *Tensor) error {
	if !shapesEqual(t.Shape, grad.Shape) {
		return fmt.Errorf("gradient shape %v doesn't match parameter shape %v", grad.Shape, t.Shape)
	}

	if t.grad == nil {
		clone, err := grad.Clone()
		if err != nil {
			return err
		}
		t.grad = clone
		return nil
	}

	dst := t.grad.Data.([]float32)
	src := grad.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// ZeroGrad clears the stored gradients of the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		t.grad = nil
	}
}

package tensor

import (
	"fmt"
)

func checkElementwise(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// Add computes t1 + t2 element-wise. As a special case it broadcasts a 1D
// bias over the rows of a 2D tensor, which is the only broadcast the
// layer stack needs.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if isBiasBroadcast(t1, t2) {
		return addBias(t1, t2)
	}
	if err := checkElementwise(t1, t2); err != nil {
		return nil, fmt.Errorf("add failed: %w", err)
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		a := t1.Data.([]float32)
		b := t2.Data.([]float32)
		out := result.Data.([]float32)
		for i := range out {
			out[i] = a[i] + b[i]
		}
	case Int32:
		a := t1.Data.([]int32)
		b := t2.Data.([]int32)
		out := result.Data.([]int32)
		for i := range out {
			out[i] = a[i] + b[i]
		}
	}

	return result, nil
}

func isBiasBroadcast(t1, t2 *Tensor) bool {
	return len(t1.Shape) == 2 && len(t2.Shape) == 1 &&
		t1.Shape[1] == t2.Shape[0] &&
		t1.DType == Float32 && t2.DType == Float32
}

func addBias(t1, bias *Tensor) (*Tensor, error) {
	rows, cols := t1.Shape[0], t1.Shape[1]
	a := t1.Data.([]float32)
	b := bias.Data.([]float32)

	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		off := i * cols
		for j := 0; j < cols; j++ {
			out[off+j] = a[off+j] + b[j]
		}
	}

	return NewTensor(t1.Shape, Float32, t1.Device, out)
}

// Sub computes t1 - t2 element-wise.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkElementwise(t1, t2); err != nil {
		return nil, fmt.Errorf("sub failed: %w", err)
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		a := t1.Data.([]float32)
		b := t2.Data.([]float32)
		out := result.Data.([]float32)
		for i := range out {
			out[i] = a[i] - b[i]
		}
	case Int32:
		a := t1.Data.([]int32)
		b := t2.Data.([]int32)
		out := result.Data.([]int32)
		for i := range out {
			out[i] = a[i] - b[i]
		}
	}

	return result, nil
}

// Mul computes t1 * t2 element-wise.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkElementwise(t1, t2); err != nil {
		return nil, fmt.Errorf("mul failed: %w", err)
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		a := t1.Data.([]float32)
		b := t2.Data.([]float32)
		out := result.Data.([]float32)
		for i := range out {
			out[i] = a[i] * b[i]
		}
	case Int32:
		a := t1.Data.([]int32)
		b := t2.Data.([]int32)
		out := result.Data.([]int32)
		for i := range out {
			out[i] = a[i] * b[i]
		}
	}

	return result, nil
}

// Scale computes t * s for a scalar s.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("scale only supports Float32 tensors, got %s", t.DType)
	}

	a := t.Data.([]float32)
	out := make([]float32, len(a))
	for i := range out {
		out[i] = a[i] * s
	}

	return NewTensor(t.Shape, Float32, t.Device, out)
}

// ReLU computes max(0, x) element-wise.
func ReLU(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("relu only supports Float32 tensors, got %s", t.DType)
	}

	a := t.Data.([]float32)
	out := make([]float32, len(a))
	for i, v := range a {
		if v > 0 {
			out[i] = v
		}
	}

	return NewTensor(t.Shape, Float32, t.Device, out)
}

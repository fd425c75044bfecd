package tensor

import (
	"fmt"
)

// NewTensor creates a tensor from existing data. The data slice type must
// match the dtype and its length must match the shape.
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	t := &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		Device:   device,
		NumElems: calculateNumElements(shapeCopy),
	}

	if err := t.setData(data); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d doesn't match shape %v (expected %d)", len(d), t.Shape, t.NumElems)
		}
		t.Data = d
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 data for Int32 tensor, got %T", data)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d doesn't match shape %v (expected %d)", len(d), t.Shape, t.NumElems)
		}
		t.Data = d
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	n := calculateNumElements(shape)
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, device, make([]float32, n))
	case Int32:
		return NewTensor(shape, dtype, device, make([]int32, n))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Ones creates a one-filled tensor.
func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	n := calculateNumElements(shape)
	switch dtype {
	case Float32:
		data := make([]float32, n)
		for i := range data {
			data[i] = 1.0
		}
		return NewTensor(shape, dtype, device, data)
	case Int32:
		data := make([]int32, n)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, device, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// FromScalar wraps a single value in a shape-[1] tensor.
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	switch dtype {
	case Int32:
		t, _ := NewTensor([]int{1}, dtype, device, []int32{int32(value)})
		return t
	default:
		t, _ := NewTensor([]int{1}, Float32, device, []float32{float32(value)})
		return t
	}
}

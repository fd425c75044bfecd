package tensor

import (
	"fmt"
)

// Clone returns a deep copy of the tensor's data and shape. Autograd
// state (gradient, creator) is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		return NewTensor(t.Shape, t.DType, t.Device, dst)
	case Int32:
		src := t.Data.([]int32)
		dst := make([]int32, len(src))
		copy(dst, src)
		return NewTensor(t.Shape, t.DType, t.Device, dst)
	default:
		return nil, fmt.Errorf("unsupported dtype for clone: %s", t.DType)
	}
}

// SetData replaces the tensor's backing data in place. The replacement
// must match the existing dtype and element count.
func (t *Tensor) SetData(data interface{}) error {
	return t.setData(data)
}

// GetFloat32Data returns the backing float32 slice.
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

// GetInt32Data returns the backing int32 slice.
func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (interface{}, error) {
	if t.NumElems != 1 {
		return nil, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}

	switch t.DType {
	case Float32:
		return t.Data.([]float32)[0], nil
	case Int32:
		return t.Data.([]int32)[0], nil
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", t.DType)
	}
}

// Equal reports whether two tensors have identical shape, dtype, and
// data.
func (t *Tensor) Equal(other *Tensor) bool {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false
	}

	switch t.DType {
	case Float32:
		a := t.Data.([]float32)
		b := other.Data.([]float32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	case Int32:
		a := t.Data.([]int32)
		b := other.Data.([]int32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func asGeneral(rows, cols int, data []float32) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   data,
	}
}

// gemm computes c = a(^T) @ b(^T) into the provided output slice using the
// gonum BLAS float32 backend. Shapes refer to the untransposed operands.
func gemm(tA, tB blas.Transpose, aRows, aCols int, a []float32, bRows, bCols int, b []float32, cRows, cCols int, c []float32) {
	blas32.Gemm(tA, tB, 1,
		asGeneral(aRows, aCols, a),
		asGeneral(bRows, bCols, b),
		0,
		asGeneral(cRows, cCols, c))
}

// MatMul computes the matrix product of two 2D Float32 tensors.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("matmul requires Float32 tensors, got %s and %s", t1.DType, t2.DType)
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}

	m, k := t1.Shape[0], t1.Shape[1]
	k2, n := t2.Shape[0], t2.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v", t1.Shape, t2.Shape)
	}

	out := make([]float32, m*n)
	gemm(blas.NoTrans, blas.NoTrans,
		m, k, t1.Data.([]float32),
		k, n, t2.Data.([]float32),
		m, n, out)

	return NewTensor([]int{m, n}, Float32, t1.Device, out)
}

// Transpose returns a copy of a 2D tensor with its axes swapped.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("transpose only supports Float32 tensors, got %s", t.DType)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	src := t.Data.([]float32)
	out := make([]float32, len(src))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = src[i*cols+j]
		}
	}

	return NewTensor([]int{cols, rows}, Float32, t.Device, out)
}

// Reshape returns a tensor with the same backing data and a new shape.
// The element count must be unchanged.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, newShape)
	}

	return NewTensor(newShape, t.DType, t.Device, t.Data)
}

// ArgMaxRows returns, for a 2D Float32 tensor, the column index of the
// maximum value in each row.
func ArgMaxRows(t *Tensor) ([]int, error) {
	if t.DType != Float32 || len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2D Float32 tensor, got %s shape %v", t.DType, t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		maxIdx := 0
		maxVal := data[i*cols]
		for j := 1; j < cols; j++ {
			if data[i*cols+j] > maxVal {
				maxVal = data[i*cols+j]
				maxIdx = j
			}
		}
		out[i] = maxIdx
	}
	return out, nil
}

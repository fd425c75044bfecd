package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
)

// addOp backs element-wise addition and the 2D+1D bias broadcast.
type addOp struct {
	a, b *Tensor
}

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := gradOut.Clone()
	if err != nil {
		return nil, fmt.Errorf("add backward: %w", err)
	}

	if isBiasBroadcast(op.a, op.b) {
		// The bias was broadcast over rows, so its gradient is the
		// column sum of the output gradient.
		rows, cols := gradOut.Shape[0], gradOut.Shape[1]
		g := gradOut.Data.([]float32)
		sums := make([]float32, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				sums[j] += g[i*cols+j]
			}
		}
		gradB, err := NewTensor([]int{cols}, Float32, gradOut.Device, sums)
		if err != nil {
			return nil, err
		}
		return []*Tensor{gradA, gradB}, nil
	}

	gradB, err := gradOut.Clone()
	if err != nil {
		return nil, fmt.Errorf("add backward: %w", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddAutograd performs addition and records the backward graph.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &addOp{a: a, b: b})
	return result, nil
}

// mulOp backs element-wise multiplication.
type mulOp struct {
	a, b *Tensor
}

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := Mul(gradOut, op.b)
	if err != nil {
		return nil, fmt.Errorf("mul backward: %w", err)
	}
	gradB, err := Mul(gradOut, op.a)
	if err != nil {
		return nil, fmt.Errorf("mul backward: %w", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd performs element-wise multiplication and records the
// backward graph.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &mulOp{a: a, b: b})
	return result, nil
}

// matMulOp backs 2D matrix multiplication.
type matMulOp struct {
	a, b *Tensor
}

func (op *matMulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *matMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.a, op.b
	m, k := a.Shape[0], a.Shape[1]
	n := b.Shape[1]
	g := gradOut.Data.([]float32)

	// gradA = gradOut @ B^T
	gradAData := make([]float32, m*k)
	gemm(blas.NoTrans, blas.Trans,
		m, n, g,
		k, n, b.Data.([]float32),
		m, k, gradAData)
	gradA, err := NewTensor([]int{m, k}, Float32, a.Device, gradAData)
	if err != nil {
		return nil, err
	}

	// gradB = A^T @ gradOut
	gradBData := make([]float32, k*n)
	gemm(blas.Trans, blas.NoTrans,
		m, k, a.Data.([]float32),
		m, n, g,
		k, n, gradBData)
	gradB, err := NewTensor([]int{k, n}, Float32, b.Device, gradBData)
	if err != nil {
		return nil, err
	}

	return []*Tensor{gradA, gradB}, nil
}

// MatMulAutograd performs matrix multiplication and records the backward
// graph.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	attach(result, &matMulOp{a: a, b: b})
	return result, nil
}

// reluOp backs the ReLU activation.
type reluOp struct {
	in *Tensor
}

func (op *reluOp) Inputs() []*Tensor { return []*Tensor{op.in} }

func (op *reluOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, fmt.Errorf("relu backward: %w", err)
	}

	in := op.in.Data.([]float32)
	g := grad.Data.([]float32)
	for i := range g {
		if in[i] <= 0 {
			g[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

// ReLUAutograd applies ReLU and records the backward graph.
func ReLUAutograd(t *Tensor) (*Tensor, error) {
	result, err := ReLU(t)
	if err != nil {
		return nil, err
	}
	attach(result, &reluOp{in: t})
	return result, nil
}

// reshapeOp backs Reshape; the gradient is reshaped back to the input
// shape.
type reshapeOp struct {
	in       *Tensor
	oldShape []int
}

func (op *reshapeOp) Inputs() []*Tensor { return []*Tensor{op.in} }

func (op *reshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	clone, err := gradOut.Clone()
	if err != nil {
		return nil, fmt.Errorf("reshape backward: %w", err)
	}
	grad, err := Reshape(clone, op.oldShape)
	if err != nil {
		return nil, fmt.Errorf("reshape backward: %w", err)
	}
	return []*Tensor{grad}, nil
}

// ReshapeAutograd reshapes a tensor and records the backward graph.
func ReshapeAutograd(t *Tensor, newShape []int) (*Tensor, error) {
	result, err := Reshape(t, newShape)
	if err != nil {
		return nil, err
	}
	attach(result, &reshapeOp{in: t, oldShape: t.Shape})
	return result, nil
}

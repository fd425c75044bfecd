package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemmAcc computes c += a(^T) @ b(^T), accumulating into c.
func gemmAcc(tA, tB blas.Transpose, aRows, aCols int, a []float32, bRows, bCols int, b []float32, cRows, cCols int, c []float32) {
	blas32.Gemm(tA, tB, 1,
		asGeneral(aRows, aCols, a),
		asGeneral(bRows, bCols, b),
		1,
		asGeneral(cRows, cCols, c))
}

func convOutputSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// im2col unrolls one [C,H,W] sample into a [C*KH*KW, outH*outW] matrix so
// convolution becomes a single GEMM.
func im2col(src []float32, c, h, w, kh, kw, stride, padding, outH, outW int, col []float32) {
	l := outH * outW
	for ch := 0; ch < c; ch++ {
		for ky := 0; ky < kh; ky++ {
			for kx := 0; kx < kw; kx++ {
				row := (ch*kh+ky)*kw + kx
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride - padding + ky
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride - padding + kx
						var v float32
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							v = src[(ch*h+iy)*w+ix]
						}
						col[row*l+oy*outW+ox] = v
					}
				}
			}
		}
	}
}

// col2im scatter-adds a [C*KH*KW, outH*outW] gradient matrix back onto a
// [C,H,W] sample gradient.
func col2im(col []float32, c, h, w, kh, kw, stride, padding, outH, outW int, dst []float32) {
	l := outH * outW
	for ch := 0; ch < c; ch++ {
		for ky := 0; ky < kh; ky++ {
			for kx := 0; kx < kw; kx++ {
				row := (ch*kh+ky)*kw + kx
				for oy := 0; oy < outH; oy++ {
					iy := oy*stride - padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*stride - padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						dst[(ch*h+iy)*w+ix] += col[row*l+oy*outW+ox]
					}
				}
			}
		}
	}
}

// conv2dOp backs the 2D convolution.
type conv2dOp struct {
	input, weight, bias *Tensor
	stride, padding     int
}

func (op *conv2dOp) Inputs() []*Tensor { return []*Tensor{op.input, op.weight, op.bias} }

func (op *conv2dOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in, wt := op.input, op.weight
	n, c, h, w := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	f, kh, kw := wt.Shape[0], wt.Shape[2], wt.Shape[3]
	outH := convOutputSize(h, kh, op.stride, op.padding)
	outW := convOutputSize(w, kw, op.stride, op.padding)
	l := outH * outW
	ckk := c * kh * kw

	inData := in.Data.([]float32)
	wData := wt.Data.([]float32)
	gData := gradOut.Data.([]float32)

	gradInData := make([]float32, len(inData))
	gradWData := make([]float32, len(wData))
	var gradBData []float32
	if op.bias != nil {
		gradBData = make([]float32, f)
	}

	col := make([]float32, ckk*l)
	colGrad := make([]float32, ckk*l)

	for s := 0; s < n; s++ {
		sampleIn := inData[s*c*h*w : (s+1)*c*h*w]
		sampleG := gData[s*f*l : (s+1)*f*l]

		im2col(sampleIn, c, h, w, kh, kw, op.stride, op.padding, outH, outW, col)

		// gradW += gradOut_n @ col^T
		gemmAcc(blas.NoTrans, blas.Trans,
			f, l, sampleG,
			ckk, l, col,
			f, ckk, gradWData)

		// gradInput_n = col2im(W^T @ gradOut_n)
		gemm(blas.Trans, blas.NoTrans,
			f, ckk, wData,
			f, l, sampleG,
			ckk, l, colGrad)
		col2im(colGrad, c, h, w, kh, kw, op.stride, op.padding, outH, outW, gradInData[s*c*h*w:(s+1)*c*h*w])

		if gradBData != nil {
			for fi := 0; fi < f; fi++ {
				var sum float32
				for i := 0; i < l; i++ {
					sum += sampleG[fi*l+i]
				}
				gradBData[fi] += sum
			}
		}
	}

	gradIn, err := NewTensor(in.Shape, Float32, in.Device, gradInData)
	if err != nil {
		return nil, err
	}
	gradW, err := NewTensor(wt.Shape, Float32, wt.Device, gradWData)
	if err != nil {
		return nil, err
	}
	var gradB *Tensor
	if gradBData != nil {
		gradB, err = NewTensor([]int{f}, Float32, wt.Device, gradBData)
		if err != nil {
			return nil, err
		}
	}

	return []*Tensor{gradIn, gradW, gradB}, nil
}

// Conv2D computes a 2D convolution over a [batch, channels, height,
// width] input with a [filters, channels, kh, kw] weight and an optional
// [filters] bias.
func Conv2D(input, weight, bias *Tensor, stride, padding int) (*Tensor, error) {
	if input.DType != Float32 || weight.DType != Float32 {
		return nil, fmt.Errorf("conv2d requires Float32 tensors")
	}
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("conv2d expects 4D input [batch, channels, height, width], got shape %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("conv2d expects 4D weight [filters, channels, kh, kw], got shape %v", weight.Shape)
	}
	if input.Shape[1] != weight.Shape[1] {
		return nil, fmt.Errorf("conv2d channel mismatch: input %d, weight %d", input.Shape[1], weight.Shape[1])
	}
	if stride <= 0 {
		return nil, fmt.Errorf("conv2d stride must be positive, got %d", stride)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	f, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	outH := convOutputSize(h, kh, stride, padding)
	outW := convOutputSize(w, kw, stride, padding)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("conv2d output would be empty for input %v kernel %dx%d stride %d padding %d", input.Shape, kh, kw, stride, padding)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != f) {
		return nil, fmt.Errorf("conv2d bias shape %v doesn't match %d filters", bias.Shape, f)
	}

	l := outH * outW
	ckk := c * kh * kw
	inData := input.Data.([]float32)
	wData := weight.Data.([]float32)

	out := make([]float32, n*f*l)
	col := make([]float32, ckk*l)

	for s := 0; s < n; s++ {
		im2col(inData[s*c*h*w:(s+1)*c*h*w], c, h, w, kh, kw, stride, padding, outH, outW, col)
		gemm(blas.NoTrans, blas.NoTrans,
			f, ckk, wData,
			ckk, l, col,
			f, l, out[s*f*l:(s+1)*f*l])

		if bias != nil {
			bData := bias.Data.([]float32)
			sampleOut := out[s*f*l : (s+1)*f*l]
			for fi := 0; fi < f; fi++ {
				for i := 0; i < l; i++ {
					sampleOut[fi*l+i] += bData[fi]
				}
			}
		}
	}

	result, err := NewTensor([]int{n, f, outH, outW}, Float32, input.Device, out)
	if err != nil {
		return nil, err
	}
	attach(result, &conv2dOp{input: input, weight: weight, bias: bias, stride: stride, padding: padding})
	return result, nil
}

// maxPool2dOp backs 2D max pooling; argmax stores the flat input index
// each output element came from.
type maxPool2dOp struct {
	input  *Tensor
	argmax []int
}

func (op *maxPool2dOp) Inputs() []*Tensor { return []*Tensor{op.input} }

func (op *maxPool2dOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradData := make([]float32, op.input.NumElems)
	g := gradOut.Data.([]float32)
	for i, src := range op.argmax {
		gradData[src] += g[i]
	}

	grad, err := NewTensor(op.input.Shape, Float32, op.input.Device, gradData)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// MaxPool2D applies non-padded max pooling over a [batch, channels,
// height, width] input.
func MaxPool2D(input *Tensor, kernel, stride int) (*Tensor, error) {
	if input.DType != Float32 {
		return nil, fmt.Errorf("maxpool2d requires a Float32 tensor, got %s", input.DType)
	}
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("maxpool2d expects 4D input [batch, channels, height, width], got shape %v", input.Shape)
	}
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("maxpool2d kernel and stride must be positive, got %d and %d", kernel, stride)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outH := (h-kernel)/stride + 1
	outW := (w-kernel)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("maxpool2d output would be empty for input %v kernel %d stride %d", input.Shape, kernel, stride)
	}

	src := input.Data.([]float32)
	out := make([]float32, n*c*outH*outW)
	argmax := make([]int, len(out))

	idx := 0
	for s := 0; s < n; s++ {
		for ch := 0; ch < c; ch++ {
			plane := (s*c + ch) * h * w
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					baseY := oy * stride
					baseX := ox * stride
					best := plane + baseY*w + baseX
					bestVal := src[best]
					for ky := 0; ky < kernel; ky++ {
						for kx := 0; kx < kernel; kx++ {
							pos := plane + (baseY+ky)*w + (baseX + kx)
							if src[pos] > bestVal {
								bestVal = src[pos]
								best = pos
							}
						}
					}
					out[idx] = bestVal
					argmax[idx] = best
					idx++
				}
			}
		}
	}

	result, err := NewTensor([]int{n, c, outH, outW}, Float32, input.Device, out)
	if err != nil {
		return nil, err
	}
	attach(result, &maxPool2dOp{input: input, argmax: argmax})
	return result, nil
}

package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// DetectDevice returns the device training should run on. The pure-Go
// build has no accelerator bridge, so it always selects CPU.
func DetectDevice() DeviceType {
	return CPU
}

// Operation is one node of the backward graph. Forward results record the
// operation that produced them; Backward maps the output gradient to one
// gradient per input (nil for non-differentiable inputs such as labels).
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   DeviceType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Creator returns the operation that produced this tensor, or nil for
// leaf tensors.
func (t *Tensor) Creator() Operation {
	return t.creator
}

// gradEnabled is the process-wide gradient-tracking flag. The training
// loop enables it for the train phase and disables it for validation;
// while disabled, operations compute values only and no backward graph
// is built.
var gradEnabled = true

// GradEnabled reports whether operations currently record the backward
// graph.
func GradEnabled() bool {
	return gradEnabled
}

// SetGradEnabled sets the gradient-tracking flag and returns the previous
// value so callers can restore it.
func SetGradEnabled(enabled bool) bool {
	prev := gradEnabled
	gradEnabled = enabled
	return prev
}

// NoGrad runs fn with gradient tracking disabled.
func NoGrad(fn func()) {
	prev := SetGradEnabled(false)
	defer SetGradEnabled(prev)
	fn()
}

// attach records op as the creator of result when gradient tracking is on
// and at least one input participates in the graph.
func attach(result *Tensor, op Operation) {
	if !gradEnabled {
		return
	}
	for _, in := range op.Inputs() {
		if in != nil && (in.requiresGrad || in.creator != nil) {
			result.creator = op
			result.requiresGrad = true
			return
		}
	}
}

// Attach records op as the creator of result so that Backward can reach
// op's inputs. It is a no-op while gradient tracking is disabled. This is
// the hook loss functions outside this package use to join the graph.
func Attach(result *Tensor, op Operation) {
	attach(result, op)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

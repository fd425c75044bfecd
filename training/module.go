package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-finetune/tensor"
)

// Global random source for deterministic initialization and shuffling.
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed seeds weight initialization, dropout masks, and data
// shuffling for reproducible runs.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module is the interface all network layers implement.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train() // Sets module to training mode
	Eval()  // Sets module to evaluation mode
	IsTraining() bool
}

// NamedParameter pairs a parameter tensor with a stable name used for
// checkpointing and freeze reporting.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// NamedModule is a Module whose parameters carry stable names, which the
// tuner needs to snapshot and persist weights.
type NamedModule interface {
	Module
	NamedParameters() []NamedParameter
}

// Linear implements a fully connected layer: y = xW + b.
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a Linear layer with Xavier/Glorot uniform
// initialization.
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear sizes must be positive, got %d and %d", inputSize, outputSize)
	}

	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// InFeatures returns the layer's input width. The model adapter reads
// this off the existing head before replacing it.
func (l *Linear) InFeatures() int {
	return l.weight.Shape[0]
}

// OutFeatures returns the layer's output width.
func (l *Linear) OutFeatures() int {
	return l.weight.Shape[1]
}

// Forward computes y = xW + b.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	output, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("linear matmul failed: %v", err)
	}

	if l.bias != nil {
		output, err = tensor.AddAutograd(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %v", err)
		}
	}

	return output, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// ReLU implements the ReLU activation module.
type ReLU struct {
	training bool
}

func NewReLU() *ReLU {
	return &ReLU{training: true}
}

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input)
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }
func (r *ReLU) Train()                       { r.training = true }
func (r *ReLU) Eval()                        { r.training = false }
func (r *ReLU) IsTraining() bool             { return r.training }

// Conv2D implements a 2D convolution layer.
type Conv2D struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	stride   int
	padding  int
	training bool
}

// NewConv2D creates a Conv2D layer with Xavier/Glorot initialization.
func NewConv2D(inputChannels, outputChannels, kernelSize, stride, padding int, bias bool, device tensor.DeviceType) (*Conv2D, error) {
	fanIn := float64(inputChannels * kernelSize * kernelSize)
	fanOut := float64(outputChannels * kernelSize * kernelSize)
	bound := math.Sqrt(6.0 / (fanIn + fanOut))

	weightData := make([]float32, outputChannels*inputChannels*kernelSize*kernelSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{outputChannels, inputChannels, kernelSize, kernelSize}, tensor.Float32, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	conv := &Conv2D{
		weight:   weight,
		stride:   stride,
		padding:  padding,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputChannels}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		conv.bias = biasT
	}

	return conv, nil
}

func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("conv2d expects 4D input [batch_size, channels, height, width], got shape %v", input.Shape)
	}
	return tensor.Conv2D(input, c.weight, c.bias, c.stride, c.padding)
}

func (c *Conv2D) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{c.weight}
	if c.bias != nil {
		params = append(params, c.bias)
	}
	return params
}

func (c *Conv2D) Train()           { c.training = true }
func (c *Conv2D) Eval()            { c.training = false }
func (c *Conv2D) IsTraining() bool { return c.training }

// MaxPool2D implements a 2D max pooling layer.
type MaxPool2D struct {
	kernelSize int
	stride     int
	training   bool
}

func NewMaxPool2D(kernelSize, stride int) *MaxPool2D {
	return &MaxPool2D{
		kernelSize: kernelSize,
		stride:     stride,
		training:   true,
	}
}

func (m *MaxPool2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("maxpool2d expects 4D input [batch_size, channels, height, width], got shape %v", input.Shape)
	}
	return tensor.MaxPool2D(input, m.kernelSize, m.stride)
}

func (m *MaxPool2D) Parameters() []*tensor.Tensor { return nil }
func (m *MaxPool2D) Train()                       { m.training = true }
func (m *MaxPool2D) Eval()                        { m.training = false }
func (m *MaxPool2D) IsTraining() bool             { return m.training }

// Flatten reshapes input to [batch_size, -1].
type Flatten struct {
	training bool
}

func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("flatten expects input with at least 2 dimensions, got shape %v", input.Shape)
	}

	batchSize := input.Shape[0]
	return tensor.ReshapeAutograd(input, []int{batchSize, input.NumElems / batchSize})
}

func (f *Flatten) Parameters() []*tensor.Tensor { return nil }
func (f *Flatten) Train()                       { f.training = true }
func (f *Flatten) Eval()                        { f.training = false }
func (f *Flatten) IsTraining() bool             { return f.training }

// Dropout randomly zeroes activations during training with probability p,
// scaling the survivors by 1/(1-p). In evaluation mode it is the
// identity.
type Dropout struct {
	p        float64
	training bool
}

func NewDropout(p float64) *Dropout {
	if p < 0 || p >= 1 {
		p = 0.5
	}
	return &Dropout{p: p, training: true}
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}

	maskData := make([]float32, input.NumElems)
	scale := float32(1.0 / (1.0 - d.p))
	for i := range maskData {
		if globalRng.Float64() >= d.p {
			maskData[i] = scale
		}
	}

	mask, err := tensor.NewTensor(input.Shape, tensor.Float32, input.Device, maskData)
	if err != nil {
		return nil, fmt.Errorf("dropout mask creation failed: %v", err)
	}

	return tensor.MulAutograd(input, mask)
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }

// Sequential chains modules together.
type Sequential struct {
	modules  []Module
	training bool
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}

	return output, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var allParams []*tensor.Tensor
	for _, module := range s.modules {
		allParams = append(allParams, module.Parameters()...)
	}
	return allParams
}

func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

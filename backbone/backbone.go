// Package backbone builds the convolutional classifier used for
// fine-tuning: a small feature extractor with a replaceable linear head.
package backbone

import (
	"fmt"

	"github.com/tsawler/go-finetune/checkpoints"
	"github.com/tsawler/go-finetune/tensor"
	"github.com/tsawler/go-finetune/training"
)

// Config controls model construction.
type Config struct {
	InputSize      int  // input images are [3, InputSize, InputSize]
	NumClasses     int  // width of the new classification head
	FreezeBackbone bool // feature extraction: only the new head trains
	UsePretrained  bool
	PretrainedPath string
	Device         tensor.DeviceType
}

// Model is a conv-pool feature extractor followed by a small classifier
// head. The head is always freshly initialized for the target classes;
// everything before it can be frozen for feature extraction.
type Model struct {
	conv1    *training.Conv2D
	pool1    *training.MaxPool2D
	conv2    *training.Conv2D
	pool2    *training.MaxPool2D
	flatten  *training.Flatten
	fc1      *training.Linear
	relu     *training.ReLU
	dropout  *training.Dropout
	head     *training.Linear
	training bool
}

const (
	conv1Channels = 16
	conv2Channels = 32
	hiddenWidth   = 64
)

// build constructs the network with a head of headClasses outputs.
func build(inputSize, headClasses int, device tensor.DeviceType) (*Model, error) {
	if inputSize < 4 || inputSize%4 != 0 {
		return nil, fmt.Errorf("input size must be a positive multiple of 4, got %d", inputSize)
	}
	if headClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", headClasses)
	}

	conv1, err := training.NewConv2D(3, conv1Channels, 3, 1, 1, true, device)
	if err != nil {
		return nil, fmt.Errorf("conv1: %v", err)
	}
	conv2, err := training.NewConv2D(conv1Channels, conv2Channels, 3, 1, 1, true, device)
	if err != nil {
		return nil, fmt.Errorf("conv2: %v", err)
	}

	// Two stride-2 pools quarter the spatial extent.
	flatWidth := conv2Channels * (inputSize / 4) * (inputSize / 4)
	fc1, err := training.NewLinear(flatWidth, hiddenWidth, true, device)
	if err != nil {
		return nil, fmt.Errorf("fc1: %v", err)
	}
	head, err := training.NewLinear(hiddenWidth, headClasses, true, device)
	if err != nil {
		return nil, fmt.Errorf("head: %v", err)
	}

	return &Model{
		conv1:    conv1,
		pool1:    training.NewMaxPool2D(2, 2),
		conv2:    conv2,
		pool2:    training.NewMaxPool2D(2, 2),
		flatten:  training.NewFlatten(),
		fc1:      fc1,
		relu:     training.NewReLU(),
		dropout:  training.NewDropout(0.25),
		head:     head,
		training: true,
	}, nil
}

// Initialize builds the model for fine-tuning. With UsePretrained the
// base weights are restored from PretrainedPath first. Freezing happens
// before the head is replaced, so the fresh head always remains
// trainable.
func Initialize(cfg Config) (*Model, error) {
	headClasses := cfg.NumClasses

	var pretrained *checkpoints.Checkpoint
	if cfg.UsePretrained {
		if cfg.PretrainedPath == "" {
			return nil, fmt.Errorf("pretrained weights requested but no path configured")
		}
		cp, err := checkpoints.Load(cfg.PretrainedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load pretrained weights: %v", err)
		}
		pretrained = cp
		if cp.Metadata.NumClasses > 1 {
			// Build the base with its original head so the weights fit,
			// then swap the head below.
			headClasses = cp.Metadata.NumClasses
		}
	}

	m, err := build(cfg.InputSize, headClasses, cfg.Device)
	if err != nil {
		return nil, err
	}

	if pretrained != nil {
		named := m.NamedParameters()
		names := make([]string, len(named))
		params := make([]*tensor.Tensor, len(named))
		for i, np := range named {
			names[i] = np.Name
			params[i] = np.Tensor
		}
		if err := checkpoints.LoadWeights(pretrained.Weights, names, params); err != nil {
			return nil, fmt.Errorf("failed to restore pretrained weights: %v", err)
		}
	}

	if cfg.FreezeBackbone {
		for _, p := range m.Parameters() {
			p.SetRequiresGrad(false)
		}
	}

	if err := m.ReplaceHead(cfg.NumClasses, cfg.Device); err != nil {
		return nil, err
	}

	return m, nil
}

// ReplaceHead swaps the classification head for a fresh one sized for
// numClasses, reading the input width off the existing head.
func (m *Model) ReplaceHead(numClasses int, device tensor.DeviceType) error {
	if numClasses < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}

	head, err := training.NewLinear(m.head.InFeatures(), numClasses, true, device)
	if err != nil {
		return fmt.Errorf("failed to build new head: %v", err)
	}
	m.head = head
	return nil
}

// NumClasses returns the width of the current head.
func (m *Model) NumClasses() int {
	return m.head.OutFeatures()
}

func (m *Model) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.conv1.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("conv1: %v", err)
	}
	if out, err = m.relu.Forward(out); err != nil {
		return nil, err
	}
	if out, err = m.pool1.Forward(out); err != nil {
		return nil, fmt.Errorf("pool1: %v", err)
	}
	if out, err = m.conv2.Forward(out); err != nil {
		return nil, fmt.Errorf("conv2: %v", err)
	}
	if out, err = m.relu.Forward(out); err != nil {
		return nil, err
	}
	if out, err = m.pool2.Forward(out); err != nil {
		return nil, fmt.Errorf("pool2: %v", err)
	}
	if out, err = m.flatten.Forward(out); err != nil {
		return nil, fmt.Errorf("flatten: %v", err)
	}
	if out, err = m.fc1.Forward(out); err != nil {
		return nil, fmt.Errorf("fc1: %v", err)
	}
	if out, err = m.relu.Forward(out); err != nil {
		return nil, err
	}
	if out, err = m.dropout.Forward(out); err != nil {
		return nil, fmt.Errorf("dropout: %v", err)
	}
	if out, err = m.head.Forward(out); err != nil {
		return nil, fmt.Errorf("head: %v", err)
	}
	return out, nil
}

func (m *Model) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, m.conv1.Parameters()...)
	params = append(params, m.conv2.Parameters()...)
	params = append(params, m.fc1.Parameters()...)
	params = append(params, m.head.Parameters()...)
	return params
}

// NamedParameters returns every parameter under a stable dotted name.
func (m *Model) NamedParameters() []training.NamedParameter {
	groups := []struct {
		prefix string
		params []*tensor.Tensor
	}{
		{"conv1", m.conv1.Parameters()},
		{"conv2", m.conv2.Parameters()},
		{"fc1", m.fc1.Parameters()},
		{"head", m.head.Parameters()},
	}

	suffixes := []string{"weight", "bias"}
	var named []training.NamedParameter
	for _, g := range groups {
		for i, p := range g.params {
			named = append(named, training.NamedParameter{
				Name:   g.prefix + "." + suffixes[i],
				Tensor: p,
			})
		}
	}
	return named
}

func (m *Model) Train() {
	m.training = true
	m.conv1.Train()
	m.conv2.Train()
	m.fc1.Train()
	m.dropout.Train()
	m.head.Train()
}

func (m *Model) Eval() {
	m.training = false
	m.conv1.Eval()
	m.conv2.Eval()
	m.fc1.Eval()
	m.dropout.Eval()
	m.head.Eval()
}

func (m *Model) IsTraining() bool { return m.training }

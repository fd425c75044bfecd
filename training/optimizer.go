package training

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float32
	SetLR(lr float32)
	GetName() string
}

// SGDConfig holds the hyperparameters for SGD.
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	Dampening    float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig matches the fine-tuning recipe: momentum SGD.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.05,
		Momentum:     0.9,
	}
}

// SGD implements stochastic gradient descent with optional momentum,
// dampening, weight decay, and Nesterov acceleration.
type SGD struct {
	params   []*tensor.Tensor
	config   SGDConfig
	momentum map[*tensor.Tensor][]float32
}

// NewSGD creates an SGD optimizer over the given parameters. Frozen
// parameters may be included; Step skips anything without a gradient.
func NewSGD(params []*tensor.Tensor, config SGDConfig) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %f", config.Momentum)
	}
	if config.Nesterov && (config.Momentum == 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}

	return &SGD{
		params:   params,
		config:   config,
		momentum: make(map[*tensor.Tensor][]float32),
	}, nil
}

// Step applies one SGD update. Parameters that are frozen or received no
// gradient this pass are left untouched.
func (s *SGD) Step() error {
	for _, param := range s.params {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		weights, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("sgd step: %v", err)
		}
		grads, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("sgd step: %v", err)
		}

		var buf []float32
		var firstStep bool
		if s.config.Momentum != 0 {
			buf = s.momentum[param]
			if buf == nil {
				buf = make([]float32, len(weights))
				s.momentum[param] = buf
				firstStep = true
			}
		}

		for i := range weights {
			g := grads[i]
			if s.config.WeightDecay != 0 {
				g += s.config.WeightDecay * weights[i]
			}

			if buf != nil {
				if firstStep {
					buf[i] = g
				} else {
					buf[i] = s.config.Momentum*buf[i] + (1-s.config.Dampening)*g
				}
				if s.config.Nesterov {
					g += s.config.Momentum * buf[i]
				} else {
					g = buf[i]
				}
			}

			weights[i] -= s.config.LearningRate * g
		}
	}

	return nil
}

// ZeroGrad clears the gradients of all managed parameters. Called at the
// start of every batch.
func (s *SGD) ZeroGrad() {
	tensor.ZeroGrad(s.params)
}

func (s *SGD) GetLR() float32 {
	return s.config.LearningRate
}

func (s *SGD) SetLR(lr float32) {
	s.config.LearningRate = lr
}

func (s *SGD) GetName() string {
	return "SGD"
}

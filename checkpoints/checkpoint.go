package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-finetune/tensor"
)

// WeightTensor is one named parameter in a checkpoint.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures where the run was when the snapshot was taken.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float32 `json:"learning_rate"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// Metadata describes the checkpoint for tooling.
type Metadata struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	NumClasses  int       `json:"num_classes"`
}

// Checkpoint is the full on-disk snapshot: weights plus training state.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// ExtractWeights deep-copies the given parameters into checkpoint form.
// names and params run in parallel; the copies are immune to later
// training updates.
func ExtractWeights(names []string, params []*tensor.Tensor) ([]WeightTensor, error) {
	if len(names) != len(params) {
		return nil, fmt.Errorf("got %d names for %d parameters", len(names), len(params))
	}

	weights := make([]WeightTensor, len(params))
	for i, param := range params {
		data, err := param.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", names[i], err)
		}

		shape := make([]int, len(param.Shape))
		copy(shape, param.Shape)
		dataCopy := make([]float32, len(data))
		copy(dataCopy, data)

		weights[i] = WeightTensor{
			Name:  names[i],
			Shape: shape,
			Data:  dataCopy,
		}
	}
	return weights, nil
}

// LoadWeights copies checkpoint weights back into live parameters,
// matching by name. Every parameter must find a weight of identical
// shape.
func LoadWeights(weights []WeightTensor, names []string, params []*tensor.Tensor) error {
	if len(names) != len(params) {
		return fmt.Errorf("got %d names for %d parameters", len(names), len(params))
	}

	byName := make(map[string]*WeightTensor, len(weights))
	for i := range weights {
		byName[weights[i].Name] = &weights[i]
	}

	for i, param := range params {
		w, ok := byName[names[i]]
		if !ok {
			return fmt.Errorf("checkpoint has no weight named %q", names[i])
		}
		if len(w.Data) != param.NumElems {
			return fmt.Errorf("weight %q has %d values, parameter expects %d", w.Name, len(w.Data), param.NumElems)
		}

		data, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %q: %v", w.Name, err)
		}
		copy(data, w.Data)
	}
	return nil
}

// Save writes the checkpoint to path as JSON, overwriting any existing
// file.
func Save(cp *Checkpoint, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(cp); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

// Load reads a checkpoint previously written by Save.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer f.Close()

	var cp Checkpoint
	if err := json.NewDecoder(f).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &cp, nil
}

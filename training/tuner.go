package training

import (
	"fmt"
	"time"

	"github.com/tsawler/go-finetune/checkpoints"
	"github.com/tsawler/go-finetune/tensor"
)

// MetricRecorder receives one scalar per tag per epoch. The tuner never
// fails a run over a recording error; implementations decide whether to
// buffer, flush, or drop.
type MetricRecorder interface {
	AddScalar(tag string, value float32, step int) error
}

// TunerConfig configures a fine-tuning run.
type TunerConfig struct {
	Epochs         int
	CheckpointPath string
	NumClasses     int
	Recorder       MetricRecorder // optional
	Verbose        bool
}

// Tuner runs the train/val fine-tuning loop: each epoch trains over the
// training set with gradients enabled, then evaluates over the validation
// set with gradients disabled, stepping the scheduler once per epoch and
// snapshotting the weights whenever validation accuracy improves.
type Tuner struct {
	model     NamedModule
	optimizer Optimizer
	scheduler LRScheduler
	config    TunerConfig

	baseLR        float32
	bestAcc       float64
	bestWeights   []checkpoints.WeightTensor
	valAccHistory []float64
}

// NewTuner creates a tuner. scheduler may be nil for a constant learning
// rate.
func NewTuner(model NamedModule, optimizer Optimizer, scheduler LRScheduler, config TunerConfig) (*Tuner, error) {
	if model == nil {
		return nil, fmt.Errorf("model is nil")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("optimizer is nil")
	}
	if config.Epochs < 0 {
		return nil, fmt.Errorf("epochs must be non-negative, got %d", config.Epochs)
	}

	return &Tuner{
		model:     model,
		optimizer: optimizer,
		scheduler: scheduler,
		config:    config,
		baseLR:    optimizer.GetLR(),
	}, nil
}

// BestAccuracy returns the highest validation accuracy seen so far, as a
// fraction in [0, 1].
func (t *Tuner) BestAccuracy() float64 {
	return t.bestAcc
}

// ValAccHistory returns the per-epoch validation accuracies.
func (t *Tuner) ValAccHistory() []float64 {
	return t.valAccHistory
}

// BestWeights returns the snapshot taken at the best validation epoch.
// Before any improvement it holds the initial weights.
func (t *Tuner) BestWeights() []checkpoints.WeightTensor {
	return t.bestWeights
}

// epochMetrics accumulates one phase's running totals. Loss is summed
// weighted by batch size so partial final batches don't skew the mean.
type epochMetrics struct {
	lossSum    float64
	correct    int
	numSamples int
}

func (m *epochMetrics) meanLoss() float64 {
	if m.numSamples == 0 {
		return 0
	}
	return m.lossSum / float64(m.numSamples)
}

func (m *epochMetrics) accuracy() float64 {
	if m.numSamples == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.numSamples)
}

// Fit runs the full loop and returns the model in its final state. The
// best-epoch weights are available separately through BestWeights; the
// returned model deliberately carries the last epoch's parameters, which
// may not be the best ones.
func (t *Tuner) Fit(trainLoader, valLoader *DataLoader) (NamedModule, error) {
	if trainLoader == nil || valLoader == nil {
		return nil, fmt.Errorf("both train and validation loaders are required")
	}

	loaders := map[Phase]*DataLoader{
		Train: trainLoader,
		Val:   valLoader,
	}

	// Fallback snapshot: if no epoch ever improves on zero accuracy, the
	// best weights are the initial ones.
	if t.bestWeights == nil {
		weights, err := t.captureWeights()
		if err != nil {
			return nil, fmt.Errorf("initial weight snapshot: %v", err)
		}
		t.bestWeights = weights
	}

	start := time.Now()

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		if t.config.Verbose {
			fmt.Printf("Epoch %d/%d\n", epoch+1, t.config.Epochs)
			fmt.Println("----------")
		}

		results := make(map[Phase]*epochMetrics)

		for _, phase := range phases {
			policy := phasePolicies[phase]

			if phase == Train {
				t.model.Train()
			} else {
				t.model.Eval()
			}

			metrics, err := t.runPhase(loaders[phase], policy)
			if err != nil {
				return nil, fmt.Errorf("epoch %d %s phase: %v", epoch, phase, err)
			}
			results[phase] = metrics

			if policy.schedulerStep && t.scheduler != nil {
				// Record the rate the epoch actually trained with, then
				// step the schedule so the next epoch sees the new rate.
				t.record("lr", t.scheduler.GetLR(epoch, t.baseLR), epoch+1)
				t.optimizer.SetLR(t.scheduler.GetLR(epoch+1, t.baseLR))
			} else if policy.schedulerStep {
				t.record("lr", t.optimizer.GetLR(), epoch+1)
			}

			if t.config.Verbose {
				fmt.Printf("%s Loss: %.4f Acc: %.4f\n", phase, metrics.meanLoss(), metrics.accuracy())
			}
		}

		t.record("training loss", float32(results[Train].meanLoss()), epoch+1)
		t.record("training acc", float32(results[Train].accuracy()), epoch+1)
		t.record("valid loss", float32(results[Val].meanLoss()), epoch+1)
		t.record("valid acc", float32(results[Val].accuracy()), epoch+1)

		valAcc := results[Val].accuracy()
		t.valAccHistory = append(t.valAccHistory, valAcc)

		if valAcc > t.bestAcc {
			t.bestAcc = valAcc
			if err := t.snapshot(epoch, valAcc); err != nil {
				return nil, fmt.Errorf("epoch %d checkpoint: %v", epoch, err)
			}
		}

		if t.config.Verbose {
			fmt.Println()
		}
	}

	if t.config.Verbose && t.config.Epochs > 0 {
		elapsed := time.Since(start)
		fmt.Printf("Training complete in %dm %ds\n", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
		fmt.Printf("Best val Acc: %.4f\n", t.bestAcc)
	}

	return t.model, nil
}

// runPhase iterates one loader pass: zero gradients, forward under the
// phase's gradient policy, accumulate loss and correct counts, and in the
// train phase backpropagate and step the optimizer per batch.
func (t *Tuner) runPhase(loader *DataLoader, policy phasePolicy) (*epochMetrics, error) {
	metrics := &epochMetrics{}
	loader.Reset()

	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return nil, err
		}

		t.optimizer.ZeroGrad()

		prev := tensor.SetGradEnabled(policy.gradEnabled)
		logits, err := t.model.Forward(batch.Inputs)
		if err != nil {
			tensor.SetGradEnabled(prev)
			return nil, fmt.Errorf("forward pass failed: %v", err)
		}

		loss, err := CrossEntropyLoss(logits, batch.Labels)
		if err != nil {
			tensor.SetGradEnabled(prev)
			return nil, fmt.Errorf("loss computation failed: %v", err)
		}

		if policy.optimizerStep {
			if err := loss.Backward(); err != nil {
				tensor.SetGradEnabled(prev)
				return nil, fmt.Errorf("backward pass failed: %v", err)
			}
			if err := t.optimizer.Step(); err != nil {
				tensor.SetGradEnabled(prev)
				return nil, fmt.Errorf("optimizer step failed: %v", err)
			}
		}
		tensor.SetGradEnabled(prev)

		lossValue, err := loss.Item()
		if err != nil {
			return nil, err
		}
		metrics.lossSum += float64(lossValue.(float32)) * float64(batch.Size)

		preds, err := tensor.ArgMaxRows(logits)
		if err != nil {
			return nil, fmt.Errorf("prediction failed: %v", err)
		}
		labels, err := batch.Labels.GetInt32Data()
		if err != nil {
			return nil, err
		}
		for i, p := range preds {
			if int32(p) == labels[i] {
				metrics.correct++
			}
		}

		metrics.numSamples += batch.Size
	}

	return metrics, nil
}

// captureWeights deep-copies the model's current parameters.
func (t *Tuner) captureWeights() ([]checkpoints.WeightTensor, error) {
	named := t.model.NamedParameters()
	names := make([]string, len(named))
	params := make([]*tensor.Tensor, len(named))
	for i, np := range named {
		names[i] = np.Name
		params[i] = np.Tensor
	}
	return checkpoints.ExtractWeights(names, params)
}

// snapshot deep-copies the current weights and overwrites the checkpoint
// file. The in-memory copy backs BestWeights even when no path is
// configured.
func (t *Tuner) snapshot(epoch int, valAcc float64) error {
	weights, err := t.captureWeights()
	if err != nil {
		return err
	}
	t.bestWeights = weights

	if t.config.CheckpointPath == "" {
		return nil
	}

	cp := &checkpoints.Checkpoint{
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			LearningRate: t.optimizer.GetLR(),
			BestAccuracy: valAcc,
		},
		Metadata: checkpoints.Metadata{
			Version:     "1.0",
			CreatedAt:   time.Now().UTC(),
			Description: "best validation accuracy snapshot",
			NumClasses:  t.config.NumClasses,
		},
	}

	return checkpoints.Save(cp, t.config.CheckpointPath)
}

// record forwards a scalar to the configured recorder, ignoring
// recording failures.
func (t *Tuner) record(tag string, value float32, step int) {
	if t.config.Recorder == nil {
		return
	}
	_ = t.config.Recorder.AddScalar(tag, value, step)
}

// PrintTrainableParameters lists the parameters that will receive
// gradient updates, mirroring the "Params to learn" listing.
func PrintTrainableParameters(model NamedModule) {
	fmt.Println("Params to learn:")
	for _, np := range model.NamedParameters() {
		if np.Tensor.RequiresGrad() {
			fmt.Printf("\t%s\n", np.Name)
		}
	}
}

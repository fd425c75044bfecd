package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-finetune/tensor"
)

// crossEntropyOp joins the cross-entropy loss to the backward graph. It
// caches the softmax probabilities from the forward pass; the logits
// gradient is (softmax - onehot) / batch_size and the integer labels get
// no gradient.
type crossEntropyOp struct {
	logits *tensor.Tensor
	labels *tensor.Tensor
	probs  []float32
}

func (op *crossEntropyOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.logits, op.labels}
}

func (op *crossEntropyOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	batchSize := op.logits.Shape[0]
	numClasses := op.logits.Shape[1]

	scale, err := gradOut.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	labels, err := op.labels.GetInt32Data()
	if err != nil {
		return nil, err
	}

	gradData := make([]float32, batchSize*numClasses)
	invBatch := scale[0] / float32(batchSize)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < numClasses; j++ {
			g := op.probs[i*numClasses+j]
			if int(labels[i]) == j {
				g -= 1.0
			}
			gradData[i*numClasses+j] = g * invBatch
		}
	}

	gradLogits, err := tensor.NewTensor(op.logits.Shape, tensor.Float32, op.logits.Device, gradData)
	if err != nil {
		return nil, err
	}

	return []*tensor.Tensor{gradLogits, nil}, nil
}

// CrossEntropyLoss computes the mean cross-entropy between logits
// [batch_size, num_classes] and integer class labels [batch_size]. The
// result is a scalar tensor wired into the backward graph.
func CrossEntropyLoss(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("cross-entropy expects 2D logits [batch_size, num_classes], got shape %v", logits.Shape)
	}
	if len(labels.Shape) != 1 || labels.Shape[0] != logits.Shape[0] {
		return nil, fmt.Errorf("labels shape %v doesn't match logits batch size %d", labels.Shape, logits.Shape[0])
	}
	if labels.DType != tensor.Int32 {
		return nil, fmt.Errorf("labels must be Int32, got %s", labels.DType)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	logitData, err := logits.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	labelData, err := labels.GetInt32Data()
	if err != nil {
		return nil, err
	}

	probs := make([]float32, batchSize*numClasses)
	var lossSum float64

	for i := 0; i < batchSize; i++ {
		label := int(labelData[i])
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d out of range for %d classes", label, numClasses)
		}

		row := logitData[i*numClasses : (i+1)*numClasses]

		// Numerically stable softmax: shift by the row max before
		// exponentiating.
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}

		var sumExp float64
		for j, v := range row {
			e := math.Exp(float64(v - maxLogit))
			probs[i*numClasses+j] = float32(e)
			sumExp += e
		}

		for j := range row {
			probs[i*numClasses+j] /= float32(sumExp)
		}

		lossSum += -math.Log(float64(probs[i*numClasses+label]) + 1e-12)
	}

	loss := tensor.FromScalar(lossSum/float64(batchSize), tensor.Float32, logits.Device)

	tensor.Attach(loss, &crossEntropyOp{
		logits: logits,
		labels: labels,
		probs:  probs,
	})

	return loss, nil
}

package training

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
)

// Dataset provides indexed access to samples. Get returns the sample's
// input tensor and its integer class label.
type Dataset interface {
	Len() int
	Get(index int) (*tensor.Tensor, int, error)
}

// Batch is one batch of stacked inputs and labels.
type Batch struct {
	Inputs *tensor.Tensor // [batch_size, ...sample shape]
	Labels *tensor.Tensor // [batch_size] Int32
	Size   int
}

// DataLoader batches a dataset for iteration. The last batch may be
// smaller than batchSize; it is never dropped.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
}

// NewDataLoader creates a loader over dataset. If shuffle is true the
// sample order is re-drawn on every Reset.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset is nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
	}
	dl.Reset()
	return dl, nil
}

// Reset rewinds the loader to the first batch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	n := dl.dataset.Len()
	if len(dl.indices) != n {
		dl.indices = make([]int, n)
		for i := range dl.indices {
			dl.indices[i] = i
		}
	}
	if dl.shuffle {
		globalRng.Shuffle(n, func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	dl.position = 0
}

// HasNext reports whether another batch remains in this pass.
func (dl *DataLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}

// Next returns the next batch. Samples are stacked along a new leading
// batch dimension; every sample must share the same shape.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("no more batches; call Reset to start a new pass")
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	var inputData []float32
	var sampleShape []int
	labels := make([]int32, len(batchIndices))

	for i, idx := range batchIndices {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}

		data, err := sample.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("sample %d: %v", idx, err)
		}

		if sampleShape == nil {
			sampleShape = sample.Shape
			inputData = make([]float32, 0, len(batchIndices)*sample.NumElems)
		} else if !intsEqual(sampleShape, sample.Shape) {
			return nil, fmt.Errorf("sample %d has shape %v, expected %v", idx, sample.Shape, sampleShape)
		}

		inputData = append(inputData, data...)
		labels[i] = int32(label)
	}

	batchShape := append([]int{len(batchIndices)}, sampleShape...)
	inputs, err := tensor.NewTensor(batchShape, tensor.Float32, tensor.CPU, inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to stack batch: %v", err)
	}

	labelTensor, err := tensor.NewTensor([]int{len(batchIndices)}, tensor.Int32, tensor.CPU, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to create label tensor: %v", err)
	}

	return &Batch{
		Inputs: inputs,
		Labels: labelTensor,
		Size:   len(batchIndices),
	}, nil
}

// Len returns the number of batches per pass.
func (dl *DataLoader) Len() int {
	n := dl.dataset.Len()
	return (n + dl.batchSize - 1) / dl.batchSize
}

// NumSamples returns the number of samples in the underlying dataset.
func (dl *DataLoader) NumSamples() int {
	return dl.dataset.Len()
}

func intsEqual(a, b []int) bool {
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

// SimpleDataset holds pre-built tensors in memory. Useful for tests and
// synthetic data.
type SimpleDataset struct {
	inputs []*tensor.Tensor
	labels []int
}

func NewSimpleDataset(inputs []*tensor.Tensor, labels []int) (*SimpleDataset, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("got %d inputs but %d labels", len(inputs), len(labels))
	}
	return &SimpleDataset{inputs: inputs, labels: labels}, nil
}

func (d *SimpleDataset) Len() int {
	return len(d.inputs)
}

func (d *SimpleDataset) Get(index int) (*tensor.Tensor, int, error) {
	if index < 0 || index >= len(d.inputs) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.inputs))
	}
	return d.inputs[index], d.labels[index], nil
}

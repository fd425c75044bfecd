package dataset

import (
	"fmt"

	"github.com/tsawler/go-finetune/tensor"
	"github.com/tsawler/go-finetune/vision/preprocessing"
)

// TensorDataset adapts an ImageFolderDataset to the loader's Dataset
// interface, decoding and transforming images on demand.
type TensorDataset struct {
	source   *ImageFolderDataset
	pipeline *preprocessing.Pipeline
}

// NewTensorDataset wraps source so every Get returns a transformed
// [3, H, W] tensor.
func NewTensorDataset(source *ImageFolderDataset, pipeline *preprocessing.Pipeline) *TensorDataset {
	return &TensorDataset{
		source:   source,
		pipeline: pipeline,
	}
}

func (d *TensorDataset) Len() int {
	return d.source.Len()
}

func (d *TensorDataset) Get(index int) (*tensor.Tensor, int, error) {
	path, label, err := d.source.GetItem(index)
	if err != nil {
		return nil, 0, err
	}

	data, h, w, err := d.pipeline.ProcessFile(path)
	if err != nil {
		return nil, 0, err
	}

	t, err := tensor.NewTensor([]int{3, h, w}, tensor.Float32, tensor.CPU, data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build tensor for %s: %v", path, err)
	}
	return t, label, nil
}

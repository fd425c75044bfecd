// Command finetune trains an image classifier on a class-per-directory
// dataset, fine-tuning a convolutional backbone with a fresh head.
//
// The data directory must contain train/ and val/ subtrees, each holding
// one subdirectory per class. The run writes three artifacts: the label
// map, the best-model checkpoint, and a TensorBoard event file.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"path/filepath"

	"github.com/tsawler/go-finetune/backbone"
	"github.com/tsawler/go-finetune/summary"
	"github.com/tsawler/go-finetune/tensor"
	"github.com/tsawler/go-finetune/training"
	"github.com/tsawler/go-finetune/vision/dataset"
	"github.com/tsawler/go-finetune/vision/preprocessing"
)

// Run configuration. Fixed for the current experiment; edit and rebuild
// to change the recipe.
const (
	dataDir       = "data/images"
	modelPath     = "model.json"
	labelMapPath  = "class_to_idx.gob"
	runsDir       = "runs"
	numClasses    = 6
	imageSize     = 64
	batchSize     = 8
	numEpochs     = 20
	learningRate  = 0.05
	momentum      = 0.9
	warmRestartT0 = 10
	warmRestartTM = 2
	// Set to freeze the backbone and train only the head; the default
	// recipe fine-tunes every parameter.
	featureExtract = false
	randomSeed     = 42
)

func main() {
	training.SetRandomSeed(randomSeed)
	device := tensor.DetectDevice()
	fmt.Printf("Training on %s\n", device)

	trainFolder, err := dataset.NewImageFolderDataset(filepath.Join(dataDir, "train"), nil)
	if err != nil {
		log.Fatalf("Failed to load training data: %v", err)
	}
	valFolder, err := dataset.NewImageFolderDataset(filepath.Join(dataDir, "val"), nil)
	if err != nil {
		log.Fatalf("Failed to load validation data: %v", err)
	}

	if trainFolder.NumClasses() != numClasses {
		log.Fatalf("Expected %d classes in training data, found %d", numClasses, trainFolder.NumClasses())
	}
	if valFolder.NumClasses() != numClasses {
		log.Fatalf("Expected %d classes in validation data, found %d", numClasses, valFolder.NumClasses())
	}

	// The label map comes from the validation split and is written
	// before training so predictions stay decodable even if the run is
	// interrupted.
	classToIdx := training.ClassIndexMap(valFolder.ClassToIdx())
	if err := classToIdx.Save(labelMapPath); err != nil {
		log.Fatalf("Failed to save label map: %v", err)
	}
	fmt.Printf("Classes: %v\n", classToIdx.Classes())

	augRng := rand.New(rand.NewSource(randomSeed))
	trainData := dataset.NewTensorDataset(trainFolder, preprocessing.TrainPipeline(imageSize, augRng))
	valData := dataset.NewTensorDataset(valFolder, preprocessing.ValPipeline(imageSize))

	trainLoader, err := training.NewDataLoader(trainData, batchSize, true)
	if err != nil {
		log.Fatalf("Failed to create training loader: %v", err)
	}
	valLoader, err := training.NewDataLoader(valData, batchSize, false)
	if err != nil {
		log.Fatalf("Failed to create validation loader: %v", err)
	}
	fmt.Printf("Train: %d samples (%d batches), Val: %d samples (%d batches)\n",
		trainLoader.NumSamples(), trainLoader.Len(), valLoader.NumSamples(), valLoader.Len())

	model, err := backbone.Initialize(backbone.Config{
		InputSize:      imageSize,
		NumClasses:     numClasses,
		FreezeBackbone: featureExtract,
		Device:         device,
	})
	if err != nil {
		log.Fatalf("Failed to initialize model: %v", err)
	}
	training.PrintTrainableParameters(model)

	optimizer, err := training.NewSGD(model.Parameters(), training.SGDConfig{
		LearningRate: learningRate,
		Momentum:     momentum,
	})
	if err != nil {
		log.Fatalf("Failed to create optimizer: %v", err)
	}

	scheduler := training.NewCosineAnnealingWarmRestarts(warmRestartT0, warmRestartTM, 0)

	writer, err := summary.NewWriter(runsDir)
	if err != nil {
		log.Fatalf("Failed to create summary writer: %v", err)
	}
	defer writer.Close()

	tuner, err := training.NewTuner(model, optimizer, scheduler, training.TunerConfig{
		Epochs:         numEpochs,
		CheckpointPath: modelPath,
		NumClasses:     numClasses,
		Recorder:       writer,
		Verbose:        true,
	})
	if err != nil {
		log.Fatalf("Failed to create tuner: %v", err)
	}

	if _, err := tuner.Fit(trainLoader, valLoader); err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	fmt.Printf("Best model saved to %s\n", modelPath)
	fmt.Printf("Metrics written to %s\n", writer.Path())
}

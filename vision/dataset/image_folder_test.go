package dataset

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-finetune/vision/preprocessing"
)

// writePNG creates a small solid-color test image.
func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

func makeImageTree(t *testing.T, counts map[string]int) string {
	t.Helper()

	root := t.TempDir()
	for class, n := range counts {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create class dir: %v", err)
		}
		for i := 0; i < n; i++ {
			writePNG(t, filepath.Join(dir, "img"+string(rune('a'+i))+".png"), color.RGBA{R: 128, G: 64, B: 32, A: 255})
		}
	}
	return root
}

func TestImageFolderDataset(t *testing.T) {
	root := makeImageTree(t, map[string]int{"dogs": 3, "cats": 2})

	ds, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	if ds.Len() != 5 {
		t.Errorf("Expected 5 images, got %d", ds.Len())
	}
	if ds.NumClasses() != 2 {
		t.Errorf("Expected 2 classes, got %d", ds.NumClasses())
	}

	// Classes sort alphabetically: cats before dogs.
	names := ds.ClassNames()
	if names[0] != "cats" || names[1] != "dogs" {
		t.Errorf("Expected sorted classes [cats dogs], got %v", names)
	}

	mapping := ds.ClassToIdx()
	if mapping["cats"] != 0 || mapping["dogs"] != 1 {
		t.Errorf("Unexpected class mapping: %v", mapping)
	}

	dist := ds.ClassDistribution()
	if dist["cats"] != 2 || dist["dogs"] != 3 {
		t.Errorf("Unexpected distribution: %v", dist)
	}

	path, label, err := ds.GetItem(0)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if path == "" {
		t.Error("Expected a non-empty image path")
	}
	if label < 0 || label >= 2 {
		t.Errorf("Label %d out of range", label)
	}
}

func TestImageFolderDatasetDeterministicMapping(t *testing.T) {
	root := makeImageTree(t, map[string]int{"pandas": 1, "cats": 1, "dogs": 1})

	first, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	second, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	for name, idx := range first.ClassToIdx() {
		if second.ClassToIdx()[name] != idx {
			t.Errorf("Class %q mapped to %d then %d", name, idx, second.ClassToIdx()[name])
		}
	}
}

func TestImageFolderDatasetErrors(t *testing.T) {
	t.Run("Missing root", func(t *testing.T) {
		if _, err := NewImageFolderDataset("/nonexistent/path", nil); err == nil {
			t.Error("Expected error for missing root")
		}
	})

	t.Run("No class directories", func(t *testing.T) {
		if _, err := NewImageFolderDataset(t.TempDir(), nil); err == nil {
			t.Error("Expected error for empty root")
		}
	})

	t.Run("Empty class directory", func(t *testing.T) {
		root := t.TempDir()
		if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if _, err := NewImageFolderDataset(root, nil); err == nil {
			t.Error("Expected error for class directory without images")
		}
	})

	t.Run("Index out of range", func(t *testing.T) {
		root := makeImageTree(t, map[string]int{"cats": 1})
		ds, err := NewImageFolderDataset(root, nil)
		if err != nil {
			t.Fatalf("Failed to create dataset: %v", err)
		}
		if _, _, err := ds.GetItem(5); err == nil {
			t.Error("Expected error for out-of-range index")
		}
	})
}

func TestTensorDataset(t *testing.T) {
	root := makeImageTree(t, map[string]int{"cats": 1, "dogs": 1})

	ds, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	td := NewTensorDataset(ds, preprocessing.ValPipeline(16))
	if td.Len() != 2 {
		t.Errorf("Expected 2 samples, got %d", td.Len())
	}

	sample, label, err := td.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if label != 0 && label != 1 {
		t.Errorf("Unexpected label %d", label)
	}

	if len(sample.Shape) != 3 || sample.Shape[0] != 3 || sample.Shape[1] != 16 || sample.Shape[2] != 16 {
		t.Errorf("Expected shape [3 16 16], got %v", sample.Shape)
	}
}

func TestTensorDatasetTrainPipeline(t *testing.T) {
	root := makeImageTree(t, map[string]int{"cats": 1})

	ds, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	rng := rand.New(rand.NewSource(3))
	td := NewTensorDataset(ds, preprocessing.TrainPipeline(16, rng))

	sample, _, err := td.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sample.Shape[1] != 16 || sample.Shape[2] != 16 {
		t.Errorf("Expected 16x16 output, got %v", sample.Shape)
	}
}

package preprocessing

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestResize(t *testing.T) {
	img := solidImage(10, 20, color.White)
	out := Resize{Size: 8}.Apply(img)

	if out.Bounds().Dx() != 8 || out.Bounds().Dy() != 8 {
		t.Errorf("Expected 8x8, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestCenterCrop(t *testing.T) {
	img := solidImage(10, 10, color.White)
	out := CenterCrop{Size: 4}.Apply(img)

	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 4 {
		t.Errorf("Expected 4x4, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}

	t.Run("Upscales small images", func(t *testing.T) {
		small := solidImage(2, 2, color.White)
		out := CenterCrop{Size: 4}.Apply(small)
		if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 4 {
			t.Errorf("Expected 4x4 from upscaled crop, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
		}
	})
}

func TestRandomResizedCrop(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	img := solidImage(32, 32, color.White)

	for i := 0; i < 10; i++ {
		out := RandomResizedCrop{Size: 16, Rng: rng}.Apply(img)
		if out.Bounds().Dx() != 16 || out.Bounds().Dy() != 16 {
			t.Fatalf("Iteration %d: expected 16x16, got %dx%d", i, out.Bounds().Dx(), out.Bounds().Dy())
		}
	}
}

func TestRandomHorizontalFlip(t *testing.T) {
	// Left half black, right half white.
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.Black)
		}
		for x := 2; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}

	t.Run("Always flips at P=1", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		out := RandomHorizontalFlip{P: 1.0, Rng: rng}.Apply(img)

		r, _, _, _ := out.At(0, 0).RGBA()
		if r == 0 {
			t.Error("Expected white pixel on the left after flip")
		}
	})

	t.Run("Never flips at P=0", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		out := RandomHorizontalFlip{P: 0.0, Rng: rng}.Apply(img)

		r, _, _, _ := out.At(0, 0).RGBA()
		if r != 0 {
			t.Error("Expected black pixel on the left without flip")
		}
	})
}

func TestPipelineNormalization(t *testing.T) {
	// Mid-gray pixels scale to ~0.5, so normalization with mean 0.5 and
	// std 0.25 lands near zero.
	img := solidImage(4, 4, color.RGBA{R: 128, G: 128, B: 128, A: 255})

	p := NewPipeline(0.5, 0.25)
	data, h, w, err := p.Process(img)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if h != 4 || w != 4 {
		t.Errorf("Expected 4x4 output, got %dx%d", h, w)
	}
	if len(data) != 3*4*4 {
		t.Fatalf("Expected %d values, got %d", 3*4*4, len(data))
	}

	for i, v := range data {
		if math.Abs(float64(v)) > 0.02 {
			t.Errorf("Value %d: expected near zero after normalization, got %f", i, v)
		}
	}
}

func TestValPipelineOutputSize(t *testing.T) {
	img := solidImage(100, 60, color.White)

	p := ValPipeline(32)
	data, h, w, err := p.Process(img)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if h != 32 || w != 32 {
		t.Errorf("Expected 32x32, got %dx%d", h, w)
	}
	if len(data) != 3*32*32 {
		t.Errorf("Expected %d values, got %d", 3*32*32, len(data))
	}
}

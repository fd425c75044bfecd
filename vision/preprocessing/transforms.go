// Package preprocessing decodes images and applies the train/val
// transform pipelines that turn files into normalized CHW tensors.
package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
)

// Transform maps a decoded image to another image. Pipelines are built
// by composing transforms in order.
type Transform interface {
	Apply(img image.Image) image.Image
}

// Resize scales the image to size x size with nearest-neighbor sampling.
type Resize struct {
	Size int
}

func (t Resize) Apply(img image.Image) image.Image {
	return resizeTo(img, t.Size, t.Size)
}

// CenterCrop cuts a size x size region from the image center. Images
// smaller than the crop are scaled up first.
type CenterCrop struct {
	Size int
}

func (t CenterCrop) Apply(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() < t.Size || bounds.Dy() < t.Size {
		img = resizeTo(img, maxInt(t.Size, bounds.Dx()), maxInt(t.Size, bounds.Dy()))
		bounds = img.Bounds()
	}

	x0 := bounds.Min.X + (bounds.Dx()-t.Size)/2
	y0 := bounds.Min.Y + (bounds.Dy()-t.Size)/2
	return cropTo(img, x0, y0, t.Size)
}

// RandomResizedCrop picks a random sub-region covering a random fraction
// of the image area and scales it to size x size. Used for training-time
// augmentation.
type RandomResizedCrop struct {
	Size int
	Rng  *rand.Rand
}

func (t RandomResizedCrop) Apply(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// Crop scale in [0.6, 1.0] of the shorter side.
	short := minInt(w, h)
	scale := 0.6 + t.Rng.Float64()*0.4
	cropSize := int(float64(short) * scale)
	if cropSize < 1 {
		cropSize = 1
	}

	x0 := bounds.Min.X
	y0 := bounds.Min.Y
	if w > cropSize {
		x0 += t.Rng.Intn(w - cropSize + 1)
	}
	if h > cropSize {
		y0 += t.Rng.Intn(h - cropSize + 1)
	}

	cropped := cropTo(img, x0, y0, cropSize)
	return resizeTo(cropped, t.Size, t.Size)
}

// RandomHorizontalFlip mirrors the image left-right with probability P.
type RandomHorizontalFlip struct {
	P   float64
	Rng *rand.Rand
}

func (t RandomHorizontalFlip) Apply(img image.Image) image.Image {
	if t.Rng.Float64() >= t.P {
		return img
	}

	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			out.Set(bounds.Dx()-1-x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return out
}

// Pipeline chains transforms and converts the final image to a
// normalized CHW float32 buffer.
type Pipeline struct {
	transforms []Transform
	mean       float32
	std        float32
}

// NewPipeline builds a pipeline normalizing each channel as
// (value - mean) / std after scaling pixels to [0, 1].
func NewPipeline(mean, std float32, transforms ...Transform) *Pipeline {
	return &Pipeline{
		transforms: transforms,
		mean:       mean,
		std:        std,
	}
}

// TrainPipeline is the augmenting pipeline used for the training split.
func TrainPipeline(size int, rng *rand.Rand) *Pipeline {
	return NewPipeline(0.5, 0.25,
		RandomResizedCrop{Size: size, Rng: rng},
		RandomHorizontalFlip{P: 0.5, Rng: rng},
	)
}

// ValPipeline is the deterministic pipeline used for the validation
// split.
func ValPipeline(size int) *Pipeline {
	return NewPipeline(0.5, 0.25,
		Resize{Size: size + size/8},
		CenterCrop{Size: size},
	)
}

// ProcessFile decodes the image at path and runs it through the
// pipeline. The result is CHW float32 data with its height and width.
func (p *Pipeline) ProcessFile(path string) ([]float32, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	return p.Process(img)
}

// Process runs a decoded image through the pipeline.
func (p *Pipeline) Process(img image.Image) ([]float32, int, int, error) {
	for _, t := range p.transforms {
		img = t.Apply(img)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, 3*h*w)
	plane := h * w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*w + x
			data[0*plane+idx] = (float32(r)/65535.0 - p.mean) / p.std
			data[1*plane+idx] = (float32(g)/65535.0 - p.mean) / p.std
			data[2*plane+idx] = (float32(b)/65535.0 - p.mean) / p.std
		}
	}

	return data, h, w, nil
}

func resizeTo(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, width, height))

	scaleX := float64(bounds.Dx()) / float64(width)
	scaleY := float64(bounds.Dy()) / float64(height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			srcY := bounds.Min.Y + int(float64(y)*scaleY)
			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}

func cropTo(img image.Image, x0, y0, size int) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out.Set(x, y, img.At(x0+x, y0+y))
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

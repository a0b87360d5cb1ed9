// Package augment writes randomly transformed copies of classification
// crops for every training epoch.
package augment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/processing"
)

// Ranges of the random transforms
const (
	MinBrightness = 0.2
	MaxBrightness = 1.0
	MaxRotation   = 10.0
	MaxShift      = 0.1
	MaxZoom       = 0.1
)

// ImageAugmenter implements model.Augmenter on image files
type ImageAugmenter struct {
	Dir  string
	Size int
	Seed int64

	processor *processing.Processor
}

// New creates an augmenter writing under dir. size is the edge of the square
// output images.
func New(dir string, size int, seed int64) *ImageAugmenter {
	if size <= 0 {
		size = 32
	}
	return &ImageAugmenter{Dir: dir, Size: size, Seed: seed, processor: processing.NewProcessor()}
}

// Augment writes one transformed copy of every sample of set into
// <Dir>/epoch_<n>/ and returns the set pointing at the copies. Labels are
// kept.
func (a *ImageAugmenter) Augment(ctx context.Context, set *dataset.Set, epoch int) (*dataset.Set, error) {
	if a.processor == nil {
		a.processor = processing.NewProcessor()
	}

	out := filepath.Join(a.Dir, fmt.Sprintf("epoch_%d", epoch+1))
	if err := utils.EnsureDir(out); err != nil {
		return nil, fmt.Errorf("failed to create augmentation folder: %w", err)
	}

	rng := rand.New(rand.NewSource(a.Seed + int64(epoch)))
	augmented := &dataset.Set{Name: set.Name + "_augmented", Samples: make([]dataset.Sample, 0, set.Len())}

	for i, s := range set.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := a.processor.LoadImage(s.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", s.Path, err)
		}

		path := filepath.Join(out, fmt.Sprintf("%06d_%s.png", i, utils.BaseName(s.Path)))
		if err := a.processor.SaveImage(a.Transform(img, rng), path, "png", 100, true); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", path, err)
		}

		s.Path = path
		s.Input = nil
		augmented.Samples = append(augmented.Samples, s)
	}

	return augmented, nil
}

// Transform applies one random brightness, rotation, shift and zoom to img
// and resizes the result to Size x Size
func (a *ImageAugmenter) Transform(img image.Image, rng *rand.Rand) *image.NRGBA {
	brightness := MinBrightness + rng.Float64()*(MaxBrightness-MinBrightness)
	angle := (rng.Float64()*2 - 1) * MaxRotation
	shiftX := (rng.Float64()*2 - 1) * MaxShift
	shiftY := (rng.Float64()*2 - 1) * MaxShift
	zoom := 1 + (rng.Float64()*2-1)*MaxZoom

	out := imaging.AdjustBrightness(img, (brightness-1)*100)
	out = imaging.Rotate(out, angle, color.Black)

	b := out.Bounds()
	w, h := b.Dx(), b.Dy()
	zw := maxInt(1, int(float64(w)*zoom))
	zh := maxInt(1, int(float64(h)*zoom))
	zoomed := imaging.Resize(out, zw, zh, imaging.Linear)

	canvas := imaging.New(w, h, color.Black)
	x := (w-zw)/2 + int(shiftX*float64(w))
	y := (h-zh)/2 + int(shiftY*float64(h))
	canvas = imaging.Paste(canvas, zoomed, image.Pt(x, y))

	return imaging.Resize(canvas, a.Size, a.Size, imaging.Linear)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package bbox decodes detector heatmaps into page-space boxes.
package bbox

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/processing"
	"github.com/menta2k/charnet/pkg/types"
)

// Handler turns raw predictions into boxes
type Handler struct {
	ScoreThreshold float64
	MaxBoxes       int

	processor *processing.Processor
	sizer     func(path string) (int, int, error)
	logger    *log.Logger
}

// NewHandler creates a handler keeping boxes with score >= threshold, at most
// maxBoxes per image (0 means unlimited)
func NewHandler(threshold float64, maxBoxes int, logger *log.Logger) *Handler {
	p := processing.NewProcessor()
	return &Handler{
		ScoreThreshold: threshold,
		MaxBoxes:       maxBoxes,
		processor:      p,
		sizer:          p.ImageSize,
		logger:         logger,
	}
}

// Decode reads a height-width-channel prediction whose channels are the
// category heatmaps followed by offset_x, offset_y, width and height. Sizes
// are fractions of the page, offsets fractions of a grid cell.
func (h *Handler) Decode(t types.Tensor, categories, pageW, pageH int) ([]types.BBox, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("expected rank 3 prediction, got shape %v", t.Shape)
	}
	gh, gw, c := t.Shape[0], t.Shape[1], t.Shape[2]
	if c != categories+4 {
		return nil, fmt.Errorf("expected %d channels, got %d", categories+4, c)
	}
	if len(t.Data) != gh*gw*c {
		return nil, fmt.Errorf("prediction has %d values for shape %v", len(t.Data), t.Shape)
	}

	var boxes []types.BBox
	for y := 0; y < gh; y++ {
		for x := 0; x < gw; x++ {
			cat, score := bestCategory(t, y, x, categories)
			if float64(score) < h.ScoreThreshold || !isPeak(t, y, x, cat) {
				continue
			}

			cx := (float64(x) + float64(t.At(y, x, categories))) / float64(gw) * float64(pageW)
			cy := (float64(y) + float64(t.At(y, x, categories+1))) / float64(gh) * float64(pageH)
			bw := float64(t.At(y, x, categories+2)) * float64(pageW)
			bh := float64(t.At(y, x, categories+3)) * float64(pageH)

			boxes = append(boxes, types.BBox{
				Category: 0,
				Score:    float64(score),
				XMin:     clamp(cx-bw/2, 0, float64(pageW)),
				YMin:     clamp(cy-bh/2, 0, float64(pageH)),
				XMax:     clamp(cx+bw/2, 0, float64(pageW)),
				YMax:     clamp(cy+bh/2, 0, float64(pageH)),
			})
		}
	}

	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Score > boxes[j].Score })
	if h.MaxBoxes > 0 && len(boxes) > h.MaxBoxes {
		boxes = boxes[:h.MaxBoxes]
	}
	return boxes, nil
}

// GetBoxes decodes one prediction per path. Every path gets an entry, empty
// when nothing passes the threshold.
func (h *Handler) GetBoxes(predictions []types.Tensor, paths []string) (types.BBoxPredictions, error) {
	if len(predictions) != len(paths) {
		return nil, fmt.Errorf("got %d predictions for %d images", len(predictions), len(paths))
	}

	out := make(types.BBoxPredictions, len(paths))
	for i, path := range paths {
		w, hh, err := h.sizer(path)
		if err != nil {
			return nil, err
		}
		boxes, err := h.Decode(predictions[i], 1, w, hh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if boxes == nil {
			boxes = []types.BBox{}
		}
		out[path] = boxes
	}
	return out, nil
}

// ShowExamples writes an overlay of predicted and ground-truth boxes for
// every item into dir
func (h *Handler) ShowExamples(predictions []types.Tensor, items []types.TrainItem, dir string) error {
	if len(predictions) != len(items) {
		return fmt.Errorf("got %d predictions for %d examples", len(predictions), len(items))
	}
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create examples folder: %w", err)
	}

	for i, it := range items {
		img, err := h.processor.LoadImage(it.ImagePath)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", it.ImagePath, err)
		}
		b := img.Bounds()
		boxes, err := h.Decode(predictions[i], 1, b.Dx(), b.Dy())
		if err != nil {
			return fmt.Errorf("%s: %w", it.ImagePath, err)
		}

		overlay := h.processor.CreateDebugOverlay(img, boxes, it.Annotations)
		path := filepath.Join(dir, utils.BaseName(it.ImagePath)+"_boxes.png")
		if err := h.processor.SaveImage(overlay, path, "png", 100, true); err != nil {
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		if h.logger != nil {
			h.logger.Printf("Saved %d predicted boxes over %s", len(boxes), path)
		}
	}
	return nil
}

func bestCategory(t types.Tensor, y, x, categories int) (int, float32) {
	best, score := 0, t.At(y, x, 0)
	for c := 1; c < categories; c++ {
		if v := t.At(y, x, c); v > score {
			best, score = c, v
		}
	}
	return best, score
}

// isPeak reports whether (y, x) is a maximum of its 3x3 neighbourhood
func isPeak(t types.Tensor, y, x, c int) bool {
	v := t.At(y, x, c)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			ny, nx := y+dy, x+dx
			if (dy == 0 && dx == 0) || ny < 0 || nx < 0 || ny >= t.Shape[0] || nx >= t.Shape[1] {
				continue
			}
			if t.At(ny, nx, c) > v {
				return false
			}
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

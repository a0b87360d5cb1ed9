package types

import (
	"image"
	"sort"
)

// Shape is a model input shape in width, height, channel order
type Shape struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

// Annotation is one ground-truth character box in page pixels
type Annotation struct {
	Label  string  `json:"label"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect returns the annotation as an integer pixel rectangle
func (a Annotation) Rect() image.Rectangle {
	return image.Rect(int(a.X), int(a.Y), int(a.X+a.Width), int(a.Y+a.Height))
}

// TrainItem is a page together with its annotations and the recommended
// number of row (height) and column (width) tiles
type TrainItem struct {
	ImagePath   string       `json:"image_path"`
	Annotations []Annotation `json:"annotations"`
	SplitRows   int          `json:"split_rows"`
	SplitCols   int          `json:"split_cols"`
}

// BBox is a decoded detection. Category is the center category, which is
// always 0 since the detector only finds characters, not their class.
type BBox struct {
	Category int     `json:"category"`
	Score    float64 `json:"score"`
	YMin     float64 `json:"ymin"`
	XMin     float64 `json:"xmin"`
	YMax     float64 `json:"ymax"`
	XMax     float64 `json:"xmax"`
}

// Rect returns the box as an integer pixel rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(b.XMin), int(b.YMin), int(b.XMax), int(b.YMax))
}

// BBoxPredictions maps a test image path to its decoded boxes
type BBoxPredictions map[string][]BBox

// Paths returns the image paths in sorted order
func (p BBoxPredictions) Paths() []string {
	paths := make([]string, 0, len(p))
	for path := range p {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Crop is a cached character image. Label is empty for test crops.
type Crop struct {
	Path   string          `json:"path"`
	Label  string          `json:"label,omitempty"`
	Source string          `json:"source"`
	Box    image.Rectangle `json:"box"`
}

// Vocabulary maps a character label to its dense class index
type Vocabulary map[string]int

// NewVocabulary indexes labels in sorted order, dropping duplicates
func NewVocabulary(labels []string) Vocabulary {
	uniq := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		uniq[l] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for l := range uniq {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	v := make(Vocabulary, len(sorted))
	for i, l := range sorted {
		v[l] = i
	}
	return v
}

// Labels returns the labels ordered by class index
func (v Vocabulary) Labels() []string {
	labels := make([]string, len(v))
	for l, i := range v {
		if i >= 0 && i < len(labels) {
			labels[i] = l
		}
	}
	return labels
}

// Tensor is a dense float32 array in row-major order
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// At reads element (y, x, c) of a rank-3 height-width-channel tensor
func (t Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Shape[1]+x)*t.Shape[2]+c]
}

// Row returns the tensor data flattened, as used for per-sample class
// probabilities
func (t Tensor) Row() []float32 {
	out := make([]float32, len(t.Data))
	copy(out, t.Data)
	return out
}

package dataset

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/pkg/processing"
	"github.com/menta2k/charnet/pkg/types"
)

// Ratio is the average character size of a page relative to the page size
type Ratio struct {
	ImagePath string  `json:"image_path"`
	Height    float64 `json:"height"`
	Width     float64 `json:"width"`
}

// Preprocessing builds the size-ratio dataset and the category vocabulary
type Preprocessing struct {
	params      config.Params
	sizer       func(path string) (int, int, error)
	ratios      []Ratio
	annotations map[string][]types.Annotation
}

// NewPreprocessing creates the ratio dataset builder
func NewPreprocessing(params config.Params) *Preprocessing {
	return &Preprocessing{
		params: params,
		sizer:  processing.NewProcessor().ImageSize,
	}
}

// Generate reads the annotation file, computes one ratio per annotated page
// and returns the vocabulary of every label seen
func (p *Preprocessing) Generate() (types.Vocabulary, error) {
	records, err := ReadTrainCSV(p.params.TrainCSV)
	if err != nil {
		return nil, err
	}

	p.ratios = p.ratios[:0]
	p.annotations = make(map[string][]types.Annotation, len(records))
	var labels []string

	for _, rec := range records {
		if len(rec.Annotations) == 0 {
			continue
		}
		path := filepath.Join(p.params.TrainImagesDir, rec.ImageID+p.params.ImageExt)
		w, h, err := p.sizer(path)
		if err != nil {
			return nil, err
		}
		if w == 0 || h == 0 {
			return nil, fmt.Errorf("%s: zero page size", path)
		}

		var sumW, sumH float64
		for _, a := range rec.Annotations {
			sumW += a.Width
			sumH += a.Height
			labels = append(labels, a.Label)
		}
		n := float64(len(rec.Annotations))
		p.ratios = append(p.ratios, Ratio{
			ImagePath: path,
			Height:    sumH / n / float64(h),
			Width:     sumW / n / float64(w),
		})
		p.annotations[path] = rec.Annotations
	}

	return types.NewVocabulary(labels), nil
}

// Labels returns the per-page ratios computed by Generate
func (p *Preprocessing) Labels() []Ratio {
	return p.ratios
}

// AnnotateSplitRecommend turns ratios into the train list. A page is cut
// into enough tiles that an average character covers target_char_ratio of a
// tile along each axis.
func (p *Preprocessing) AnnotateSplitRecommend(ratios []Ratio) []types.TrainItem {
	items := make([]types.TrainItem, 0, len(ratios))
	for _, r := range ratios {
		items = append(items, types.TrainItem{
			ImagePath:   r.ImagePath,
			Annotations: p.annotations[r.ImagePath],
			SplitRows:   recommendSplit(r.Height, p.params.TargetCharRatio, p.params.MaxSplit),
			SplitCols:   recommendSplit(r.Width, p.params.TargetCharRatio, p.params.MaxSplit),
		})
	}
	return items
}

func recommendSplit(ratio, target float64, maxSplit int) int {
	if ratio <= 0 {
		return 1
	}
	split := int(math.Round(target / ratio))
	if split < 1 {
		return 1
	}
	if maxSplit > 0 && split > maxSplit {
		return maxSplit
	}
	return split
}

package dataset

import (
	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/pkg/types"
)

// Detection builds training, validation and optional test sets for the
// detector
type Detection struct {
	params     config.Params
	training   *Set
	validation *Set
	test       *Set
}

// NewDetection creates the detection dataset builder
func NewDetection(params config.Params) *Detection {
	return &Detection{params: params}
}

// Generate splits the train list into training and validation parts. The
// test set is only built when testList is not nil.
func (d *Detection) Generate(trainList []types.TrainItem, testList []string) ([]types.TrainItem, []types.TrainItem, error) {
	xyTrain, xyVal := split(trainList, d.params.ValidationSplit, d.params.Seed)

	d.training = &Set{Name: "training", Samples: detectionSamples(xyTrain)}
	d.validation = &Set{Name: "validation", Samples: detectionSamples(xyVal)}

	d.test = nil
	if testList != nil {
		samples := make([]Sample, len(testList))
		for i, path := range testList {
			samples[i] = Sample{Path: path}
		}
		d.test = &Set{Name: "test", Samples: samples}
	}

	return xyTrain, xyVal, nil
}

// TrainingSet returns the training split
func (d *Detection) TrainingSet() *Set { return d.training }

// ValidationSet returns the validation split
func (d *Detection) ValidationSet() *Set { return d.validation }

// TestSet returns the test images, nil when no test list was given
func (d *Detection) TestSet() *Set { return d.test }

func detectionSamples(items []types.TrainItem) []Sample {
	samples := make([]Sample, len(items))
	for i, it := range items {
		samples[i] = Sample{
			Path:      it.ImagePath,
			Boxes:     it.Annotations,
			SplitRows: it.SplitRows,
			SplitCols: it.SplitCols,
		}
	}
	return samples
}

package dataset

import (
	"errors"
	"fmt"

	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/pkg/types"
)

// ErrUnknownLabel is returned when a crop label is not in the vocabulary
var ErrUnknownLabel = errors.New("label not in vocabulary")

// Classification builds the sets for the character classifier
type Classification struct {
	params     config.Params
	vocabulary types.Vocabulary
	training   *Set
	validation *Set
	test       *Set
}

// NewClassification creates the classification dataset builder
func NewClassification(params config.Params, vocabulary types.Vocabulary) *Classification {
	return &Classification{params: params, vocabulary: vocabulary}
}

// Generate maps crop labels to class indices and splits the crops. The test
// set is only built when testPaths is not nil.
func (c *Classification) Generate(trainCrops []types.Crop, testPaths []string) ([]types.Crop, []types.Crop, error) {
	for _, crop := range trainCrops {
		if _, ok := c.vocabulary[crop.Label]; !ok {
			return nil, nil, fmt.Errorf("crop %s: %q: %w", crop.Path, crop.Label, ErrUnknownLabel)
		}
	}

	xyTrain, xyVal := split(trainCrops, c.params.ValidationSplit, c.params.Seed)
	c.training = &Set{Name: "training", Samples: c.samples(xyTrain)}
	c.validation = &Set{Name: "validation", Samples: c.samples(xyVal)}

	c.test = nil
	if testPaths != nil {
		samples := make([]Sample, len(testPaths))
		for i, path := range testPaths {
			samples[i] = Sample{Path: path, Label: -1}
		}
		c.test = &Set{Name: "test", Samples: samples}
	}

	return xyTrain, xyVal, nil
}

// TrainingSet returns the training split
func (c *Classification) TrainingSet() *Set { return c.training }

// ValidationSet returns the validation split
func (c *Classification) ValidationSet() *Set { return c.validation }

// TestSet returns the test crops, nil when no test crops were given
func (c *Classification) TestSet() *Set { return c.test }

func (c *Classification) samples(crops []types.Crop) []Sample {
	samples := make([]Sample, len(crops))
	for i, crop := range crops {
		samples[i] = Sample{Path: crop.Path, Label: c.vocabulary[crop.Label]}
	}
	return samples
}

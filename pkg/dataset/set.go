package dataset

import (
	"math"
	"math/rand"

	"github.com/menta2k/charnet/pkg/types"
)

// Sample is one element of a set. Detection samples carry boxes and the
// recommended tiling, classification samples carry a class index. Input is
// set only when the sample was already resized and normalized.
type Sample struct {
	Path      string             `json:"path"`
	Boxes     []types.Annotation `json:"boxes,omitempty"`
	Label     int                `json:"label"`
	SplitRows int                `json:"split_rows,omitempty"`
	SplitCols int                `json:"split_cols,omitempty"`
	Input     *types.Tensor      `json:"input,omitempty"`
}

// Set is an ordered collection of samples handed to a model
type Set struct {
	Name    string   `json:"name"`
	Samples []Sample `json:"samples"`
}

// Len returns the number of samples, 0 for a nil set
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// Paths returns the sample paths in order
func (s *Set) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, len(s.Samples))
	for i, sm := range s.Samples {
		paths[i] = sm.Path
	}
	return paths
}

// split shuffles a copy of items with seed and returns the training and
// validation parts
func split[T any](items []T, fraction float64, seed int64) ([]T, []T) {
	shuffled := make([]T, len(items))
	copy(shuffled, items)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nVal := int(math.Round(float64(len(shuffled)) * fraction))
	return shuffled[nVal:], shuffled[:nVal]
}

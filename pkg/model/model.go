// Package model defines the contract with the neural-network framework and
// wraps it with the checkpoint, callback and training conventions the
// pipeline relies on.
package model

import (
	"context"
	"errors"

	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/types"
)

var (
	// ErrNoWeights is returned when no checkpoint matches the epoch pattern
	ErrNoWeights = errors.New("no weights file matches")
	// ErrNotRegularFile is returned when the matched checkpoint is not a file
	ErrNotRegularFile = errors.New("weights path is not a regular file")
	// ErrUnsupported is returned by backends that cannot perform an operation
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Mode selects the architecture variant
type Mode string

const (
	ModeDetection      Mode = "detection"
	ModeClassification Mode = "classification"
	ModeHourglass      Mode = "hourglass"
)

// Loss and metric names understood by the backends
const (
	LossCenterNet         = "centernet_all"
	LossSparseCategorical = "sparse_categorical_crossentropy"

	MetricSize                = "size_loss"
	MetricHeatmap             = "heatmap_loss"
	MetricOffset              = "offset_loss"
	MetricSparseCategoricalAc = "sparse_categorical_accuracy"
)

// Architecture describes the network a framework should build
type Architecture struct {
	Name       string      `json:"name,omitempty"`
	Mode       Mode        `json:"mode"`
	Input      types.Shape `json:"input"`
	Output     types.Shape `json:"output,omitempty"`
	Categories int         `json:"categories"`
	Labels     []string    `json:"labels,omitempty"`
	Stacks     int         `json:"stacks,omitempty"`
	Channels   int         `json:"channels,omitempty"`
}

// Optimizer is an Adam optimizer configuration
type Optimizer struct {
	Name         string  `json:"name"`
	LearningRate float64 `json:"learning_rate"`
	Decay        float64 `json:"decay"`
}

// Adam returns the optimizer used by every stage
func Adam(lr, decay float64) Optimizer {
	return Optimizer{Name: "adam", LearningRate: lr, Decay: decay}
}

// CompileOptions configures loss and metrics of a model
type CompileOptions struct {
	Optimizer Optimizer `json:"optimizer"`
	Loss      string    `json:"loss"`
	Metrics   []string  `json:"metrics,omitempty"`
}

// Logs are the metric values reported at the end of an epoch
type Logs map[string]float64

// Epoch is a single pass of the fit loop
type Epoch struct {
	Epoch           int          `json:"epoch"`
	Training        *dataset.Set `json:"training"`
	Validation      *dataset.Set `json:"validation"`
	TrainingSteps   int          `json:"training_steps"`
	ValidationSteps int          `json:"validation_steps"`
	BatchSize       int          `json:"batch_size"`
}

// Model is a built network inside the external framework
type Model interface {
	Compile(ctx context.Context, opts CompileOptions) error
	LoadWeights(ctx context.Context, path string) error
	SaveWeights(ctx context.Context, path string) error
	SetLearningRate(ctx context.Context, lr float64) error
	FitEpoch(ctx context.Context, epoch Epoch) (Logs, error)
	Evaluate(ctx context.Context, set *dataset.Set, steps int) ([]float64, error)
	Predict(ctx context.Context, set *dataset.Set) ([]types.Tensor, error)
	Summary(ctx context.Context) (string, error)
}

// Framework builds models
type Framework interface {
	Build(ctx context.Context, arch Architecture) (Model, error)
}

// Augmenter produces the augmented training set of an epoch
type Augmenter interface {
	Augment(ctx context.Context, set *dataset.Set, epoch int) (*dataset.Set, error)
}

// Steps is the number of batches per epoch: size/batchSize + 1. The extra
// step is added even when the division is exact.
func Steps(size, batchSize int) int {
	return size/batchSize + 1
}

package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/charnet/internal/logging"
	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/types"
)

// CenterNet wraps a framework with model construction, checkpoint
// restoration and the fit loop
type CenterNet struct {
	framework Framework
	logs      *logging.Loggers
}

// NewCenterNet creates the wrapper
func NewCenterNet(framework Framework, logs *logging.Loggers) *CenterNet {
	return &CenterNet{framework: framework, logs: logs}
}

// TrainParams configures a training run
type TrainParams struct {
	Training     *dataset.Set
	Validation   *dataset.Set
	InitialEpoch int
	Epochs       int
	BatchSize    int
	Callbacks    []Callback
	// Augmentation replaces the training set every epoch when set
	Augmentation Augmenter
}

// Build builds a network. categories is 1 for detection, which only
// detects the presence of a character and not its label.
func (c *CenterNet) Build(ctx context.Context, inputShape types.Shape, mode Mode, categories int) (Model, error) {
	c.logs.Execution.Printf("Building %s model...", mode)
	return c.BuildArchitecture(ctx, Architecture{Mode: mode, Input: inputShape, Categories: categories})
}

// BuildArchitecture builds a network from a full architecture description
func (c *CenterNet) BuildArchitecture(ctx context.Context, arch Architecture) (Model, error) {
	m, err := c.framework.Build(ctx, arch)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s model: %w", arch.Mode, err)
	}
	return m, nil
}

// RestorePattern is the glob matching the checkpoints of an epoch
func RestorePattern(folder string, initialEpoch int) string {
	return filepath.Join(folder, fmt.Sprintf("weights.%02d-*.hdf5", initialEpoch))
}

// Restore loads the checkpoint whose name starts with the two-digit
// initialEpoch
func (c *CenterNet) Restore(ctx context.Context, m Model, initialEpoch int, folder string) error {
	pattern := RestorePattern(folder, initialEpoch)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("bad weights pattern %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("%w provided name %s", ErrNoWeights, pattern)
	}

	path := filepath.Join(folder, filepath.Base(matches[0]))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("weights file %s: %w", path, ErrNotRegularFile)
	}

	c.logs.Execution.Printf("Restoring weights in file %s...", filepath.Base(path))
	if err := m.LoadWeights(ctx, path); err != nil {
		return fmt.Errorf("failed to load weights %s: %w", path, err)
	}
	return nil
}

// SetupCallbacks returns the curve logger, the best-only checkpointer and
// the step-decay schedule
func (c *CenterNet) SetupCallbacks(weightsLogPath string, batchSize int, lr float64) []Callback {
	return []Callback{
		NewCurveLogger(filepath.Join(weightsLogPath, "tensorboard")),
		NewCheckpointer(weightsLogPath, c.logs.Training),
		&LRScheduler{Schedule: StepDecay(lr)},
	}
}

// Train runs epochs InitialEpoch to Epochs-1
func (c *CenterNet) Train(ctx context.Context, m Model, p TrainParams) error {
	c.logs.Training.Printf("Training the model...")

	summary, err := m.Summary(ctx)
	if err != nil {
		return fmt.Errorf("failed to read model summary: %w", err)
	}
	c.logs.Training.Printf("Architecture of the model:\n%s", summary)

	c.logs.Training.Printf("Starting the fitting procedure:")
	c.logs.Training.Printf("* Total number of epochs:   %d", p.Epochs)
	c.logs.Training.Printf("* Initial epoch:            %d", p.InitialEpoch)

	trainingSteps := Steps(p.Training.Len(), p.BatchSize)
	validationSteps := Steps(p.Validation.Len(), p.BatchSize)

	for epoch := p.InitialEpoch; epoch < p.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, cb := range p.Callbacks {
			if err := cb.OnEpochBegin(ctx, m, epoch); err != nil {
				return err
			}
		}

		training := p.Training
		if p.Augmentation != nil {
			training, err = p.Augmentation.Augment(ctx, p.Training, epoch)
			if err != nil {
				return fmt.Errorf("augmentation failed at epoch %d: %w", epoch+1, err)
			}
		}

		logs, err := m.FitEpoch(ctx, Epoch{
			Epoch:           epoch,
			Training:        training,
			Validation:      p.Validation,
			TrainingSteps:   trainingSteps,
			ValidationSteps: validationSteps,
			BatchSize:       p.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("epoch %d failed: %w", epoch+1, err)
		}
		c.logs.Training.Printf("Epoch %d/%d: %v", epoch+1, p.Epochs, logs)

		for _, cb := range p.Callbacks {
			if err := cb.OnEpochEnd(ctx, m, epoch, logs); err != nil {
				return err
			}
		}
	}

	c.logs.Training.Printf("Training procedure performed successfully!")
	return nil
}

// Evaluate returns the loss followed by the metrics. An empty evaluation
// (steps == 0) is skipped and returns nil.
func (c *CenterNet) Evaluate(ctx context.Context, m Model, set *dataset.Set, steps int) ([]float64, error) {
	c.logs.Training.Printf("Evaluating the model...")

	if steps == 0 {
		c.logs.Training.Printf("WARN: Skipping evaluation since provided set is empty")
		return nil, nil
	}

	return m.Evaluate(ctx, set, steps)
}

// Predict runs inference over a set
func (c *CenterNet) Predict(ctx context.Context, m Model, set *dataset.Set) ([]types.Tensor, error) {
	c.logs.Test.Printf("Predicting...")
	return m.Predict(ctx, set)
}

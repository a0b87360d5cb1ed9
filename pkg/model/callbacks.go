package model

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Callback hooks into the fit loop
type Callback interface {
	OnEpochBegin(ctx context.Context, m Model, epoch int) error
	OnEpochEnd(ctx context.Context, m Model, epoch int, logs Logs) error
}

// Checkpointer saves weights whenever the monitored value improves
type Checkpointer struct {
	Dir     string
	Monitor string
	logger  *log.Logger
	best    float64
}

// NewCheckpointer saves into dir, monitoring val_loss for a minimum
func NewCheckpointer(dir string, logger *log.Logger) *Checkpointer {
	return &Checkpointer{Dir: dir, Monitor: "val_loss", logger: logger, best: math.Inf(1)}
}

// Filename formats the checkpoint name for a 0-based epoch
func Filename(epoch int, value float64) string {
	return fmt.Sprintf("weights.%02d-%.2f.hdf5", epoch+1, value)
}

func (c *Checkpointer) OnEpochBegin(ctx context.Context, m Model, epoch int) error {
	return nil
}

func (c *Checkpointer) OnEpochEnd(ctx context.Context, m Model, epoch int, logs Logs) error {
	value, ok := logs[c.Monitor]
	if !ok {
		c.logger.Printf("WARN: can save best model only with %s available, skipping", c.Monitor)
		return nil
	}
	if value >= c.best {
		return nil
	}
	c.best = value

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create weights folder: %w", err)
	}
	path := filepath.Join(c.Dir, Filename(epoch, value))
	if err := m.SaveWeights(ctx, path); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", path, err)
	}
	return nil
}

// CurveLogger appends one CSV row of metrics per epoch
type CurveLogger struct {
	Dir     string
	columns []string
}

// NewCurveLogger writes curves.csv into dir
func NewCurveLogger(dir string) *CurveLogger {
	return &CurveLogger{Dir: dir}
}

// Path returns the CSV file the curves are written to
func (c *CurveLogger) Path() string {
	return filepath.Join(c.Dir, "curves.csv")
}

func (c *CurveLogger) OnEpochBegin(ctx context.Context, m Model, epoch int) error {
	return nil
}

func (c *CurveLogger) OnEpochEnd(ctx context.Context, m Model, epoch int, logs Logs) error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create curve log folder: %w", err)
	}

	f, err := os.OpenFile(c.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open curve log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if c.columns == nil {
		for k := range logs {
			c.columns = append(c.columns, k)
		}
		sort.Strings(c.columns)
		if err := w.Write(append([]string{"epoch"}, c.columns...)); err != nil {
			return err
		}
	}

	row := []string{strconv.Itoa(epoch + 1)}
	for _, k := range c.columns {
		v, ok := logs[k]
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Schedule maps a 0-based epoch to a learning rate
type Schedule func(epoch int) float64

// StepDecay keeps lr for the first 21 epochs and divides it by 10 after
func StepDecay(lr float64) Schedule {
	return func(epoch int) float64 {
		if epoch > 20 {
			return lr / 10
		}
		return lr
	}
}

// LRScheduler sets the learning rate at the start of every epoch
type LRScheduler struct {
	Schedule Schedule
}

func (s *LRScheduler) OnEpochBegin(ctx context.Context, m Model, epoch int) error {
	return m.SetLearningRate(ctx, s.Schedule(epoch))
}

func (s *LRScheduler) OnEpochEnd(ctx context.Context, m Model, epoch int, logs Logs) error {
	return nil
}

// Package pipeline sequences the preprocessing, detection and
// classification stages and threads the state of one stage into the next.
package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/internal/logging"
	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/bbox"
	"github.com/menta2k/charnet/pkg/cropper"
	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/model"
	"github.com/menta2k/charnet/pkg/processing"
	"github.com/menta2k/charnet/pkg/types"
)

// ErrAborted is returned when the user refuses to clear a weights folder
var ErrAborted = errors.New("aborted by user")

// Session runs the stages of one process. Vocabulary, input shape and test
// list are set by one stage and read by the following ones.
type Session struct {
	dataset   config.Dataset
	logs      *logging.Loggers
	centernet *model.CenterNet
	cropper   *cropper.CharCropper
	bbox      *bbox.Handler
	processor *processing.Processor

	in  *bufio.Reader
	out io.Writer

	inputShape types.Shape
	vocabulary types.Vocabulary
	testList   []string
	testCrops  []types.Crop
}

// Option configures a Session
type Option func(*Session)

// WithLoggers replaces the default stderr loggers
func WithLoggers(logs *logging.Loggers) Option {
	return func(s *Session) { s.logs = logs }
}

// WithPrompt sets where confirmations are read from and asked on
func WithPrompt(in io.Reader, out io.Writer) Option {
	return func(s *Session) {
		s.in = bufio.NewReader(in)
		s.out = out
	}
}

// WithCropper replaces the default character cropper
func WithCropper(c *cropper.CharCropper) Option {
	return func(s *Session) { s.cropper = c }
}

// WithBBoxHandler fixes the box decoder. By default one is created per
// detection run from the stage threshold and box limit.
func WithBBoxHandler(h *bbox.Handler) Option {
	return func(s *Session) { s.bbox = h }
}

// WithCropDirs overrides the training and test crop caches
func WithCropDirs(train, test string) Option {
	return func(s *Session) {
		s.dataset.CropTrainDir = train
		s.dataset.CropTestDir = test
	}
}

// New creates a session over a dataset. The test list is read from the
// sample submission when one is configured.
func New(ds config.Dataset, framework model.Framework, opts ...Option) (*Session, error) {
	s := &Session{
		dataset:   ds,
		logs:      logging.New(os.Stderr),
		processor: processing.NewProcessor(),
		in:        bufio.NewReader(os.Stdin),
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.centernet = model.NewCenterNet(framework, s.logs)
	if s.cropper == nil {
		s.cropper = cropper.New(s.logs.Execution)
	}

	switch {
	case ds.SampleSubmission == "":
	case !utils.FileExists(ds.SampleSubmission):
		s.logs.Execution.Printf("WARN: sample submission %s not found, no test set", ds.SampleSubmission)
	default:
		list, err := dataset.TestImagePaths(ds)
		if err != nil {
			return nil, fmt.Errorf("failed to read test list: %w", err)
		}
		s.testList = list
	}

	return s, nil
}

// Vocabulary returns the labels found by the preprocessing stage
func (s *Session) Vocabulary() types.Vocabulary { return s.vocabulary }

// InputShape returns the input shape of the last detection or
// classification stage
func (s *Session) InputShape() types.Shape { return s.inputShape }

// TestList returns the test image paths
func (s *Session) TestList() []string { return s.testList }

// TestCrops returns the crops classified by the last classification stage,
// nil unless it predicted on the test set
func (s *Session) TestCrops() []types.Crop { return s.testCrops }

// ensureFreshWeights asks before wiping a non-empty weights folder. Only an
// exact y, Y, yes or ok clears it; anything else returns ErrAborted and
// leaves the folder untouched.
func (s *Session) ensureFreshWeights(folder string) error {
	empty, err := utils.IsEmptyDir(folder)
	if err != nil {
		return fmt.Errorf("failed to inspect weights folder: %w", err)
	}
	if empty {
		return nil
	}

	fmt.Fprintf(s.out, "The weights folder %s is not empty. Delete its contents? [y/N] ", folder)
	line, err := s.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.TrimRight(line, "\r\n") {
	case "y", "Y", "yes", "ok":
	default:
		return fmt.Errorf("weights folder %s: %w", folder, ErrAborted)
	}

	s.logs.Execution.Printf("Deleting contents of %s...", folder)
	if err := utils.ClearDir(folder); err != nil {
		return fmt.Errorf("failed to clear weights folder: %w", err)
	}
	return nil
}

func (s *Session) merge(stage config.Model) config.Params {
	return config.Merge(stage, s.dataset)
}

func (s *Session) setInputShape(p config.Params) types.Shape {
	w, h, c := p.InputShape()
	s.inputShape = types.Shape{Width: w, Height: h, Channels: c}
	return s.inputShape
}

// decay parses the stage decay, noting a value that was discarded
func (s *Session) decay(p config.Params) float64 {
	raw := strings.TrimSpace(string(p.Decay))
	d := config.ParseDecay(raw)
	if raw != "" && d == 0 && !isZero(raw) {
		s.logs.Training.Printf("Decay %q is not a number, using 0.0", raw)
	}
	return d
}

func isZero(raw string) bool {
	return strings.Trim(strings.TrimLeft(raw, "+-"), "0.") == ""
}

// Package zeroshot classifies character crops by asking a vision model to
// pick one label of the vocabulary. It cannot be trained.
package zeroshot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/client"
	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/model"
	"github.com/menta2k/charnet/pkg/processing"
	"github.com/menta2k/charnet/pkg/types"
)

// DefaultPrompt introduces the list of allowed labels
const DefaultPrompt = `You are a character recognizer for scanned pages.

The image shows exactly one handwritten character.
Answer with the code of the character only, chosen from this list:
%s

HARD RULES
- Reply with one code from the list, for example U+0041.
- No explanation, no punctuation, no markdown.`

// Framework builds zero-shot classification models on a vision client
type Framework struct {
	client      client.VisionClient
	visionModel string
	logger      *log.Logger
}

// New creates the framework. visionModel is the model name passed to the
// client.
func New(c client.VisionClient, visionModel string, logger *log.Logger) *Framework {
	return &Framework{client: c, visionModel: visionModel, logger: logger}
}

// Build returns a classifier over arch.Labels. Other modes are not
// supported.
func (f *Framework) Build(ctx context.Context, arch model.Architecture) (model.Model, error) {
	if arch.Mode != model.ModeClassification {
		return nil, fmt.Errorf("zero-shot %s model: %w", arch.Mode, model.ErrUnsupported)
	}
	if len(arch.Labels) == 0 || len(arch.Labels) != arch.Categories {
		return nil, fmt.Errorf("zero-shot classifier needs %d labels, got %d", arch.Categories, len(arch.Labels))
	}

	labels := make([]string, len(arch.Labels))
	copy(labels, arch.Labels)
	return &Model{
		framework: f,
		labels:    labels,
		prompt:    fmt.Sprintf(DefaultPrompt, describeLabels(labels)),
		processor: processing.NewProcessor(),
	}, nil
}

// Model is a zero-shot classifier
type Model struct {
	framework *Framework
	labels    []string
	prompt    string
	processor *processing.Processor
}

// Compile does nothing: there is no optimizer
func (m *Model) Compile(ctx context.Context, opts model.CompileOptions) error {
	return nil
}

func (m *Model) LoadWeights(ctx context.Context, path string) error {
	return fmt.Errorf("load weights: %w", model.ErrUnsupported)
}

func (m *Model) SaveWeights(ctx context.Context, path string) error {
	return fmt.Errorf("save weights: %w", model.ErrUnsupported)
}

func (m *Model) SetLearningRate(ctx context.Context, lr float64) error {
	return fmt.Errorf("set learning rate: %w", model.ErrUnsupported)
}

func (m *Model) FitEpoch(ctx context.Context, epoch model.Epoch) (model.Logs, error) {
	return nil, fmt.Errorf("fit: %w", model.ErrUnsupported)
}

func (m *Model) Evaluate(ctx context.Context, set *dataset.Set, steps int) ([]float64, error) {
	return nil, fmt.Errorf("evaluate: %w", model.ErrUnsupported)
}

// Predict asks the vision model about every crop and returns one
// probability row per sample
func (m *Model) Predict(ctx context.Context, set *dataset.Set) ([]types.Tensor, error) {
	rows := make([]types.Tensor, 0, set.Len())
	for _, s := range set.Samples {
		img, err := m.processor.LoadImage(s.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", s.Path, err)
		}
		imgB64, err := m.processor.PrepareImageForModel(img, "png", 256, 95)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", s.Path, err)
		}

		answer, err := m.framework.client.SimpleQuery(ctx, m.framework.visionModel, m.prompt, imgB64)
		if err != nil {
			return nil, fmt.Errorf("vision query for %s failed: %w", s.Path, err)
		}

		idx := m.Match(answer)
		if idx < 0 && m.framework.logger != nil {
			m.framework.logger.Printf("WARN: answer %q for %s matches no label", answer, s.Path)
		}
		rows = append(rows, m.row(idx))
	}
	return rows, nil
}

func (m *Model) Summary(ctx context.Context) (string, error) {
	return fmt.Sprintf("zero-shot classifier on %s over %d labels", m.framework.visionModel, len(m.labels)), nil
}

// Match returns the label index named by answer, or -1. The answer may be
// the label itself or the character it encodes.
func (m *Model) Match(answer string) int {
	answer = utils.SanitizeFilename(client.CleanAnswer(answer))
	if answer == "" {
		return -1
	}
	for i, l := range m.labels {
		if strings.EqualFold(utils.SanitizeFilename(l), answer) {
			return i
		}
	}
	for i, l := range m.labels {
		if r, ok := decodeLabel(l); ok && string(r) == answer {
			return i
		}
	}
	return -1
}

// row is one-hot on idx, uniform when idx is -1
func (m *Model) row(idx int) types.Tensor {
	data := make([]float32, len(m.labels))
	if idx < 0 {
		for i := range data {
			data[i] = 1 / float32(len(data))
		}
	} else {
		data[idx] = 1
	}
	return types.Tensor{Shape: []int{len(data)}, Data: data}
}

// decodeLabel turns a U+XXXX label into its character
func decodeLabel(label string) (rune, bool) {
	if !strings.HasPrefix(label, "U+") {
		return 0, false
	}
	code, err := strconv.ParseUint(label[2:], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(code), true
}

func describeLabels(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(l)
		if r, ok := decodeLabel(l); ok {
			fmt.Fprintf(&b, " (%c)", r)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

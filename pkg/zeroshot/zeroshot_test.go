package zeroshot

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/charnet/internal/logging"
	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/model"
)

type fakeClient struct {
	answers []string
	prompts []string
}

func (c *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

func classifier(t *testing.T, c *fakeClient) *Model {
	t.Helper()
	fw := New(c, "test-model", logging.Discard().Test)
	m, err := fw.Build(context.Background(), model.Architecture{
		Mode:       model.ModeClassification,
		Categories: 3,
		Labels:     []string{"U+0041", "U+0042", "U+3042"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m.(*Model)
}

func TestBuildRejectsDetection(t *testing.T) {
	fw := New(&fakeClient{}, "m", nil)
	_, err := fw.Build(context.Background(), model.Architecture{Mode: model.ModeDetection, Categories: 1})
	if !errors.Is(err, model.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestBuildNeedsLabels(t *testing.T) {
	fw := New(&fakeClient{}, "m", nil)
	if _, err := fw.Build(context.Background(), model.Architecture{Mode: model.ModeClassification, Categories: 2}); err == nil {
		t.Error("Expected error without labels")
	}
}

func TestMatch(t *testing.T) {
	m := classifier(t, &fakeClient{})
	tests := []struct {
		answer string
		want   int
	}{
		{"U+0041", 0},
		{"u+0042.", 1},
		{"`U+3042`", 2},
		{"あ", 2},
		{"B", 1},
		{"U+9999", -1},
		{"no idea", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := m.Match(tt.answer); got != tt.want {
			t.Errorf("Match(%q) = %d, want %d", tt.answer, got, tt.want)
		}
	}
}

func TestPredict(t *testing.T) {
	dir := t.TempDir()
	var samples []dataset.Sample
	for _, name := range []string{"a.png", "b.png"} {
		p := filepath.Join(dir, name)
		if err := imaging.Save(imaging.New(12, 12, color.White), p); err != nil {
			t.Fatal(err)
		}
		samples = append(samples, dataset.Sample{Path: p, Label: -1})
	}

	c := &fakeClient{answers: []string{"U+0042", "something else"}}
	m := classifier(t, c)

	rows, err := m.Predict(context.Background(), &dataset.Set{Samples: samples})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Data[1] != 1 || rows[0].Data[0] != 0 {
		t.Errorf("Expected one-hot row on index 1, got %v", rows[0].Data)
	}
	for _, v := range rows[1].Data {
		if v != float32(1)/3 {
			t.Errorf("Expected uniform row, got %v", rows[1].Data)
			break
		}
	}
	if !strings.Contains(c.prompts[0], "U+3042 (あ)") {
		t.Errorf("Expected prompt to list decoded labels:\n%s", c.prompts[0])
	}
}

func TestTrainingUnsupported(t *testing.T) {
	m := classifier(t, &fakeClient{})
	ctx := context.Background()
	if err := m.Compile(ctx, model.CompileOptions{}); err != nil {
		t.Errorf("Compile should be a no-op, got %v", err)
	}
	if err := m.LoadWeights(ctx, "w"); !errors.Is(err, model.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if _, err := m.FitEpoch(ctx, model.Epoch{}); !errors.Is(err, model.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDecay(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.01", 0.01},
		{" 0.5 ", 0.5},
		{"1e-4", 0.0001},
		{"", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		if got := ParseDecay(tt.in); got != tt.want {
			t.Errorf("ParseDecay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecayUnmarshalJSON(t *testing.T) {
	var m Model
	if err := json.Unmarshal([]byte(`{"decay": 0.01}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Decay != "0.01" {
		t.Errorf("Expected number to be kept as text, got %q", m.Decay)
	}

	if err := json.Unmarshal([]byte(`{"decay": "abc"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Decay != "abc" || ParseDecay(string(m.Decay)) != 0 {
		t.Errorf("Expected string decay, got %q", m.Decay)
	}

	if err := json.Unmarshal([]byte(`{"decay": null}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Decay != "" {
		t.Errorf("Expected null to clear decay, got %q", m.Decay)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"batch", func(c *Config) { c.Detection.BatchSize = 0 }, "detection.batch_size"},
		{"epochs", func(c *Config) { c.Classification.InitialEpoch = 40 }, "classification.epochs"},
		{"split", func(c *Config) { c.Dataset.ValidationSplit = 1 }, "validation_split"},
		{"ratio", func(c *Config) { c.Dataset.TargetCharRatio = 0 }, "target_char_ratio"},
		{"backend", func(c *Config) { c.Run.Backend = "torch" }, "run.backend"},
	}
	for _, tt := range tests {
		c := Default()
		tt.mutate(c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error mentioning %q, got %v", tt.name, tt.want, err)
		}
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
dataset:
  validation_split: 0.25
detection:
  batch_size: 4
  decay: 0.001
  predict_on_test: true
run:
  run_id: abc
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if c.Dataset.ValidationSplit != 0.25 || c.Detection.BatchSize != 4 || !c.Detection.PredictOnTest {
		t.Errorf("Values not loaded: %+v", c.Detection)
	}
	if ParseDecay(string(c.Detection.Decay)) != 0.001 {
		t.Errorf("Expected decay 0.001, got %q", c.Detection.Decay)
	}
	if c.Detection.InputWidth != 512 || c.Dataset.ImageExt != ".jpg" {
		t.Error("Missing keys should keep their defaults")
	}
	if c.Run.WeightsPath("detection") != filepath.Join("weights", "abc", "detection") {
		t.Errorf("Unexpected weights path %s", c.Run.WeightsPath("detection"))
	}
}

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	c := Default()
	c.Classification.Decay = "0.2"
	c.Run.RunID = "r1"
	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Classification.Decay != "0.2" || loaded.Run.RunID != "r1" {
		t.Errorf("Round trip lost values: %+v", loaded.Run)
	}
}

func TestMergeIsIndependent(t *testing.T) {
	c := Default()
	p := Merge(c.Detection, c.Dataset)
	p.BatchSize = 99
	p.ValidationSplit = 0.9
	if c.Detection.BatchSize == 99 || c.Dataset.ValidationSplit == 0.9 {
		t.Error("Merge must not alias the stage or dataset records")
	}
	if w, h, ch := p.InputShape(); w != 512 || h != 512 || ch != 3 {
		t.Errorf("Unexpected input shape %dx%dx%d", w, h, ch)
	}
}

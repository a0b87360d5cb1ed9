package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Dataset        Dataset `json:"dataset" yaml:"dataset"`
	Preprocessing  Model   `json:"preprocessing" yaml:"preprocessing"`
	Detection      Model   `json:"detection" yaml:"detection"`
	Hourglass      Model   `json:"hourglass" yaml:"hourglass"`
	Classification Model   `json:"classification" yaml:"classification"`
	Run            Run     `json:"run" yaml:"run"`
}

// Dataset holds the dataset-level parameters merged into every stage
type Dataset struct {
	TrainCSV         string  `json:"train_csv" yaml:"train_csv"`
	TrainImagesDir   string  `json:"train_images_dir" yaml:"train_images_dir"`
	TestImagesDir    string  `json:"test_images_dir" yaml:"test_images_dir"`
	SampleSubmission string  `json:"sample_submission" yaml:"sample_submission"`
	ImageExt         string  `json:"image_ext" yaml:"image_ext"`
	ValidationSplit  float64 `json:"validation_split" yaml:"validation_split"`
	Seed             int64   `json:"seed" yaml:"seed"`
	CropTrainDir     string  `json:"crop_train_dir" yaml:"crop_train_dir"`
	CropTestDir      string  `json:"crop_test_dir" yaml:"crop_test_dir"`
	ExamplesDir      string  `json:"examples_dir" yaml:"examples_dir"`
	TargetCharRatio  float64 `json:"target_char_ratio" yaml:"target_char_ratio"`
	MaxSplit         int     `json:"max_split" yaml:"max_split"`
}

// Model holds the parameters of a single stage
type Model struct {
	InputWidth             int     `json:"input_width" yaml:"input_width"`
	InputHeight            int     `json:"input_height" yaml:"input_height"`
	InputChannels          int     `json:"input_channels" yaml:"input_channels"`
	OutputWidth            int     `json:"output_width" yaml:"output_width"`
	OutputHeight           int     `json:"output_height" yaml:"output_height"`
	Train                  bool    `json:"train" yaml:"train"`
	RestoreWeights         bool    `json:"restore_weights" yaml:"restore_weights"`
	InitialEpoch           int     `json:"initial_epoch" yaml:"initial_epoch"`
	Epochs                 int     `json:"epochs" yaml:"epochs"`
	BatchSize              int     `json:"batch_size" yaml:"batch_size"`
	LearningRate           float64 `json:"learning_rate" yaml:"learning_rate"`
	Decay                  Decay   `json:"decay" yaml:"decay"`
	PredictOnTest          bool    `json:"predict_on_test" yaml:"predict_on_test"`
	RegenerateCropsTrain   bool    `json:"regenerate_crops_train" yaml:"regenerate_crops_train"`
	RegenerateCropsTest    bool    `json:"regenerate_crops_test" yaml:"regenerate_crops_test"`
	ShowPredictionExamples bool    `json:"show_prediction_examples" yaml:"show_prediction_examples"`
	Augmentation           bool    `json:"augmentation" yaml:"augmentation"`
	ScoreThreshold         float64 `json:"score_threshold" yaml:"score_threshold"`
	MaxBoxes               int     `json:"max_boxes" yaml:"max_boxes"`
}

// Run holds the parameters of the process itself rather than of a stage
type Run struct {
	WeightsDir      string `json:"weights_dir" yaml:"weights_dir"`
	RunID           string `json:"run_id" yaml:"run_id"`
	LogDir          string `json:"log_dir" yaml:"log_dir"`
	Backend         string `json:"backend" yaml:"backend"`
	BackendURL      string `json:"backend_url" yaml:"backend_url"`
	VisionModel     string `json:"vision_model" yaml:"vision_model"`
	PredictionsPath string `json:"predictions_path" yaml:"predictions_path"`
}

// Params is a stage record with the dataset record merged in
type Params struct {
	Model
	Dataset
}

// Merge combines a stage record with the dataset record. The result is a
// fresh value, so stages never observe each other's merges.
func Merge(m Model, d Dataset) Params {
	return Params{Model: m, Dataset: d}
}

// Decay is the optimizer decay as written in the config file. It may be a
// number or a string, and is only turned into a float by ParseDecay.
type Decay string

// UnmarshalJSON accepts both JSON numbers and strings
func (d *Decay) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*d = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decay(s)
		return nil
	}
	*d = Decay(raw)
	return nil
}

// ParseDecay returns the decay as a float, or 0.0 when it is missing or not
// a number
func ParseDecay(value string) float64 {
	decay, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0.0
	}
	return decay
}

// InputShape returns the configured input shape in width, height, channel
// order
func (m Model) InputShape() (int, int, int) {
	return m.InputWidth, m.InputHeight, m.InputChannels
}

// Default returns a configuration with default values
func Default() *Config {
	stage := Model{
		InputWidth:     512,
		InputHeight:    512,
		InputChannels:  3,
		OutputWidth:    128,
		OutputHeight:   128,
		Train:          true,
		Epochs:         30,
		BatchSize:      8,
		LearningRate:   0.001,
		ScoreThreshold: 0.3,
		MaxBoxes:       500,
	}
	classification := stage
	classification.InputWidth = 32
	classification.InputHeight = 32
	classification.RegenerateCropsTrain = true
	classification.RegenerateCropsTest = true

	return &Config{
		Dataset: Dataset{
			TrainCSV:         filepath.Join("datasets", "kaggle", "train.csv"),
			TrainImagesDir:   filepath.Join("datasets", "kaggle", "training", "images"),
			TestImagesDir:    filepath.Join("datasets", "kaggle", "testing", "images"),
			SampleSubmission: filepath.Join("datasets", "kaggle", "sample_submission.csv"),
			ImageExt:         ".jpg",
			ValidationSplit:  0.2,
			Seed:             42,
			CropTrainDir:     filepath.Join("datasets", "char_cropped_train"),
			CropTestDir:      filepath.Join("datasets", "char_cropped_test"),
			ExamplesDir:      filepath.Join("datasets", "prediction_examples"),
			TargetCharRatio:  0.1,
			MaxSplit:         8,
		},
		Preprocessing:  stage,
		Detection:      stage,
		Hourglass:      stage,
		Classification: classification,
		Run: Run{
			WeightsDir:      "weights",
			LogDir:          "logs",
			Backend:         "remote",
			BackendURL:      "http://localhost:8500",
			VisionModel:     "openbmb/minicpm-v4.5",
			PredictionsPath: "predictions.csv",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file. Keys missing
// from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML or JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	stages := map[string]Model{
		"preprocessing":  c.Preprocessing,
		"detection":      c.Detection,
		"hourglass":      c.Hourglass,
		"classification": c.Classification,
	}
	for name, m := range stages {
		if err := m.validate(); err != nil {
			return fmt.Errorf("%s.%w", name, err)
		}
	}

	if c.Dataset.ValidationSplit < 0 || c.Dataset.ValidationSplit >= 1 {
		return fmt.Errorf("dataset.validation_split must be in [0, 1)")
	}

	if c.Dataset.TargetCharRatio <= 0 {
		return fmt.Errorf("dataset.target_char_ratio must be positive")
	}

	if c.Dataset.MaxSplit < 1 {
		return fmt.Errorf("dataset.max_split must be at least 1")
	}

	switch c.Run.Backend {
	case "remote", "ollama", "llamacpp":
	default:
		return fmt.Errorf("run.backend must be one of remote, ollama, llamacpp")
	}

	return nil
}

func (m Model) validate() error {
	if m.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive")
	}

	if m.InputWidth < 1 || m.InputHeight < 1 || m.InputChannels < 1 {
		return fmt.Errorf("input_width, input_height and input_channels must be positive")
	}

	if m.InitialEpoch < 0 || m.Epochs < m.InitialEpoch {
		return fmt.Errorf("epochs must be at least initial_epoch (>= 0)")
	}

	if m.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive")
	}

	if m.ScoreThreshold < 0 || m.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be between 0 and 1")
	}

	return nil
}

// WeightsPath returns the checkpoint folder of a stage for this run
func (r Run) WeightsPath(stage string) string {
	return filepath.Join(r.WeightsDir, r.RunID, stage)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "charnet", "config.yaml")
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Package charnet finds and classifies handwritten characters on page
// images.
//
// A run goes through three stages:
//
//  1. Preprocessing (pkg/dataset): reads the annotation file, computes the
//     average character size of every page and the label vocabulary
//  2. Detection (pkg/model, pkg/bbox): trains or restores a CenterNet style
//     detector, or the stacked hourglass variant, and decodes its heatmaps
//     into boxes on the test pages
//  3. Classification (pkg/cropper): crops the characters and trains or
//     restores a classifier over the vocabulary
//
// The network itself lives in an external framework reached through
// model.Framework: a remote training service (pkg/remote) or a vision model
// asked zero-shot (pkg/zeroshot).
//
// Basic usage:
//
//	cfg, err := config.LoadFromFile("config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fw, err := charnet.NewFramework(cfg, log.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := charnet.Run(ctx, cfg, fw, charnet.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%d predictions\n", len(res.Predictions))
package charnet

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/pkg/client"
	"github.com/menta2k/charnet/pkg/model"
	"github.com/menta2k/charnet/pkg/pipeline"
	"github.com/menta2k/charnet/pkg/remote"
	"github.com/menta2k/charnet/pkg/types"
	"github.com/menta2k/charnet/pkg/zeroshot"
)

// Version of the charnet library
const Version = "1.0.0"

// Stage names, also used as weights sub-folders
const (
	StagePreprocessing  = "preprocessing"
	StageDetection      = "detection"
	StageHourglass      = "hourglass"
	StageClassification = "classification"
)

// Options selects what Run does
type Options struct {
	// Stages to run, all when empty. Preprocessing always runs since the
	// later stages need its ratios and vocabulary.
	Stages []string
	// Hourglass replaces detection with the stacked hourglass detector.
	// Selecting the hourglass stage has the same effect.
	Hourglass bool
	// Session options passed to the pipeline
	Session []pipeline.Option
}

// Result holds what the stages produced
type Result struct {
	Vocabulary  types.Vocabulary      `json:"vocabulary"`
	TrainList   []types.TrainItem     `json:"train_list"`
	BBoxes      types.BBoxPredictions `json:"bboxes,omitempty"`
	TestCrops   []types.Crop          `json:"test_crops,omitempty"`
	Predictions [][]float32           `json:"predictions,omitempty"`
}

// NewFramework returns the framework configured by run.backend
func NewFramework(cfg *config.Config, logger *log.Logger) (model.Framework, error) {
	switch cfg.Run.Backend {
	case "remote":
		return remote.New(cfg.Run.BackendURL, nil), nil
	case "ollama", "llamacpp":
		c, err := client.New(cfg.Run.Backend, cfg.Run.BackendURL)
		if err != nil {
			return nil, err
		}
		return zeroshot.New(c, cfg.Run.VisionModel, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Run.Backend)
	}
}

// Run executes the selected stages in order, each with its weights folder
// <weights_dir>/<run_id>/<stage>
func Run(ctx context.Context, cfg *config.Config, framework model.Framework, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	selected, err := selectStages(opts.Stages)
	if err != nil {
		return nil, err
	}

	s, err := pipeline.New(cfg.Dataset, framework, opts.Session...)
	if err != nil {
		return nil, err
	}

	ratios, err := s.RunPreprocessing(ctx, cfg.Preprocessing, cfg.Run.WeightsPath(StagePreprocessing))
	if err != nil {
		return nil, err
	}
	res := &Result{Vocabulary: s.Vocabulary()}

	if selected[StageDetection] {
		if opts.Hourglass || slices.Contains(opts.Stages, StageHourglass) {
			err = s.RunHourglassDetection(ctx, cfg.Hourglass, ratios, cfg.Run.WeightsPath(StageHourglass), cfg.Run.RunID)
		} else {
			res.TrainList, res.BBoxes, err = s.RunDetection(ctx, cfg.Detection, ratios, cfg.Run.WeightsPath(StageDetection))
		}
		if err != nil {
			return nil, err
		}
	}
	if res.TrainList == nil {
		res.TrainList = ratios.AnnotateSplitRecommend(ratios.Labels())
	}

	if selected[StageClassification] {
		res.Predictions, err = s.RunClassification(ctx, cfg.Classification, res.TrainList, res.BBoxes, cfg.Run.WeightsPath(StageClassification))
		if err != nil {
			return nil, err
		}
		res.TestCrops = s.TestCrops()
	}

	return res, nil
}

func selectStages(stages []string) (map[string]bool, error) {
	selected := map[string]bool{StagePreprocessing: true}
	if len(stages) == 0 {
		selected[StageDetection] = true
		selected[StageClassification] = true
		return selected, nil
	}
	for _, st := range stages {
		switch st {
		case StagePreprocessing, StageDetection, StageClassification:
			selected[st] = true
		case StageHourglass:
			selected[StageDetection] = true
		default:
			return nil, fmt.Errorf("unknown stage: %s", st)
		}
	}
	return selected, nil
}

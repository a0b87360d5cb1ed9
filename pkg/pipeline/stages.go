package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/pkg/augment"
	"github.com/menta2k/charnet/pkg/bbox"
	"github.com/menta2k/charnet/pkg/cropper"
	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/model"
	"github.com/menta2k/charnet/pkg/types"
)

// Hourglass architecture
const (
	HourglassStacks     = 1
	HourglassChannels   = 256
	HourglassCategories = 6
)

// ExampleCount is the number of validation pages drawn with their boxes
const ExampleCount = 10

// RunPreprocessing builds the ratio dataset and stores the vocabulary
func (s *Session) RunPreprocessing(ctx context.Context, stage config.Model, weightsPath string) (*dataset.Preprocessing, error) {
	p := s.merge(stage)
	if p.Train && !p.RestoreWeights {
		if err := s.ensureFreshWeights(weightsPath); err != nil {
			return nil, err
		}
	}

	s.logs.Execution.Printf("Building preprocessing dataset...")
	ratios := dataset.NewPreprocessing(p)
	vocabulary, err := ratios.Generate()
	if err != nil {
		return nil, fmt.Errorf("preprocessing dataset: %w", err)
	}
	s.vocabulary = vocabulary
	s.logs.Execution.Printf("Found %d annotated pages and %d categories", len(ratios.Labels()), len(vocabulary))

	return ratios, nil
}

// RunHourglassDetection trains the stacked hourglass detector on the train
// list recommended by ratios
func (s *Session) RunHourglassDetection(ctx context.Context, stage config.Model, ratios *dataset.Preprocessing, weightsPath, runID string) error {
	p := s.merge(stage)
	shape := s.setInputShape(p)
	if p.Train && !p.RestoreWeights {
		if err := s.ensureFreshWeights(weightsPath); err != nil {
			return err
		}
	}

	trainList := ratios.AnnotateSplitRecommend(ratios.Labels())

	m, err := s.centernet.BuildArchitecture(ctx, model.Architecture{
		Name:       runID,
		Mode:       model.ModeHourglass,
		Input:      shape,
		Output:     types.Shape{Width: p.OutputWidth, Height: p.OutputHeight, Channels: HourglassCategories + 4},
		Categories: HourglassCategories,
		Stacks:     HourglassStacks,
		Channels:   HourglassChannels,
	})
	if err != nil {
		return err
	}
	if err := s.compile(ctx, m, p, model.LossCenterNet, model.MetricSize, model.MetricHeatmap, model.MetricOffset); err != nil {
		return err
	}
	if p.RestoreWeights {
		if err := s.centernet.Restore(ctx, m, p.InitialEpoch, weightsPath); err != nil {
			return err
		}
	}

	det := dataset.NewDetection(p)
	if _, _, err := det.Generate(trainList, nil); err != nil {
		return fmt.Errorf("hourglass dataset: %w", err)
	}

	if !p.Train {
		return nil
	}
	return s.centernet.Train(ctx, m, model.TrainParams{
		Training:     det.TrainingSet(),
		Validation:   det.ValidationSet(),
		InitialEpoch: p.InitialEpoch,
		Epochs:       p.Epochs,
		BatchSize:    p.BatchSize,
		Callbacks:    s.centernet.SetupCallbacks(weightsPath, p.BatchSize, p.LearningRate),
	})
}

// RunDetection trains or restores the detector and, with predict_on_test,
// returns the decoded boxes of every test image. Boxes are nil otherwise.
func (s *Session) RunDetection(ctx context.Context, stage config.Model, ratios *dataset.Preprocessing, weightsPath string) ([]types.TrainItem, types.BBoxPredictions, error) {
	p := s.merge(stage)
	shape := s.setInputShape(p)
	if p.Train && !p.RestoreWeights {
		if err := s.ensureFreshWeights(weightsPath); err != nil {
			return nil, nil, err
		}
	}

	// Detection only finds characters, their class comes later
	m, err := s.centernet.Build(ctx, shape, model.ModeDetection, 1)
	if err != nil {
		return nil, nil, err
	}
	if err := s.compile(ctx, m, p, model.LossCenterNet, model.MetricSize, model.MetricHeatmap, model.MetricOffset); err != nil {
		return nil, nil, err
	}
	if p.RestoreWeights {
		if err := s.centernet.Restore(ctx, m, p.InitialEpoch, weightsPath); err != nil {
			return nil, nil, err
		}
	}

	trainList := ratios.AnnotateSplitRecommend(ratios.Labels())

	var testList []string
	if p.PredictOnTest {
		testList = s.testList
		if testList == nil {
			testList = []string{}
		}
	}
	det := dataset.NewDetection(p)
	_, xyVal, err := det.Generate(trainList, testList)
	if err != nil {
		return nil, nil, fmt.Errorf("detection dataset: %w", err)
	}

	if p.Train {
		if err := s.centernet.Train(ctx, m, model.TrainParams{
			Training:     det.TrainingSet(),
			Validation:   det.ValidationSet(),
			InitialEpoch: p.InitialEpoch,
			Epochs:       p.Epochs,
			BatchSize:    p.BatchSize,
			Callbacks:    s.centernet.SetupCallbacks(weightsPath, p.BatchSize, p.LearningRate),
		}); err != nil {
			return nil, nil, err
		}

		metrics, err := s.centernet.Evaluate(ctx, m, det.ValidationSet(), evaluationSteps(det.ValidationSet(), p.BatchSize))
		if err != nil {
			return nil, nil, err
		}
		if len(metrics) >= 4 {
			s.logs.Training.Printf("Evaluation loss: %.4f, size loss: %.4f, heatmap loss: %.4f, offset loss: %.4f",
				metrics[0], metrics[1], metrics[2], metrics[3])
		}
	}

	handler := s.bbox
	if handler == nil {
		handler = bbox.NewHandler(p.ScoreThreshold, p.MaxBoxes, s.logs.Test)
	}

	if p.ShowPredictionExamples {
		if err := s.showExamples(ctx, m, handler, xyVal, shape, p.ExamplesDir); err != nil {
			return nil, nil, err
		}
	}

	if !p.PredictOnTest {
		return trainList, nil, nil
	}

	preds, err := s.centernet.Predict(ctx, m, det.TestSet())
	if err != nil {
		return nil, nil, err
	}
	bboxes, err := handler.GetBoxes(preds, det.TestSet().Paths())
	if err != nil {
		return nil, nil, err
	}
	s.logs.Test.Printf("Decoded boxes for %d test images", len(bboxes))

	return trainList, bboxes, nil
}

// RunClassification trains or restores the classifier over the stored
// vocabulary and, with predict_on_test, returns one probability row per
// test crop. Rows are nil otherwise.
func (s *Session) RunClassification(ctx context.Context, stage config.Model, trainList []types.TrainItem, bboxes types.BBoxPredictions, weightsPath string) ([][]float32, error) {
	p := s.merge(stage)
	shape := s.setInputShape(p)
	if p.Train && !p.RestoreWeights {
		if err := s.ensureFreshWeights(weightsPath); err != nil {
			return nil, err
		}
	}

	if len(s.vocabulary) == 0 {
		return nil, fmt.Errorf("classification needs the vocabulary of the preprocessing stage")
	}

	s.logs.Execution.Printf("Building %s model...", model.ModeClassification)
	m, err := s.centernet.BuildArchitecture(ctx, model.Architecture{
		Mode:       model.ModeClassification,
		Input:      shape,
		Categories: len(s.vocabulary),
		Labels:     s.vocabulary.Labels(),
	})
	if err != nil {
		return nil, err
	}
	if p.RestoreWeights {
		if err := s.centernet.Restore(ctx, m, p.InitialEpoch, weightsPath); err != nil {
			return nil, err
		}
	}
	if err := s.compile(ctx, m, p, model.LossSparseCategorical, model.MetricSparseCategoricalAc); err != nil {
		return nil, err
	}

	var trainCrops []types.Crop
	if p.RegenerateCropsTrain {
		trainCrops, err = s.cropper.RegenerateTrain(trainList, p.CropTrainDir)
	} else {
		trainCrops, err = s.cropper.Load(p.CropTrainDir, cropper.ModeTrain)
	}
	if err != nil {
		return nil, fmt.Errorf("training crops: %w", err)
	}

	s.testCrops = nil
	var testPaths []string
	if p.PredictOnTest {
		var testCrops []types.Crop
		if p.RegenerateCropsTest {
			if bboxes == nil {
				return nil, fmt.Errorf("test crops: no bounding-box predictions to crop from")
			}
			testCrops, err = s.cropper.RegenerateTest(bboxes, p.CropTestDir)
		} else {
			testCrops, err = s.cropper.Load(p.CropTestDir, cropper.ModeTest)
		}
		if err != nil {
			return nil, fmt.Errorf("test crops: %w", err)
		}
		s.testCrops = testCrops
		testPaths = cropper.Paths(testCrops)
		if testPaths == nil {
			testPaths = []string{}
		}
	}

	cls := dataset.NewClassification(p, s.vocabulary)
	if _, _, err := cls.Generate(trainCrops, testPaths); err != nil {
		return nil, fmt.Errorf("classification dataset: %w", err)
	}

	if p.Train {
		params := model.TrainParams{
			Training:     cls.TrainingSet(),
			Validation:   cls.ValidationSet(),
			InitialEpoch: p.InitialEpoch,
			Epochs:       p.Epochs,
			BatchSize:    p.BatchSize,
			Callbacks:    s.centernet.SetupCallbacks(weightsPath, p.BatchSize, p.LearningRate),
		}
		if p.Augmentation {
			params.Augmentation = augment.New(filepath.Join(weightsPath, "augmented"), p.InputWidth, p.Seed)
		}
		if err := s.centernet.Train(ctx, m, params); err != nil {
			return nil, err
		}
	}

	if !p.PredictOnTest {
		return nil, nil
	}

	preds, err := s.centernet.Predict(ctx, m, cls.TestSet())
	if err != nil {
		return nil, err
	}
	if len(preds) != cls.TestSet().Len() {
		return nil, fmt.Errorf("got %d predictions for %d test crops", len(preds), cls.TestSet().Len())
	}
	rows := make([][]float32, len(preds))
	for i, t := range preds {
		rows[i] = t.Row()
	}
	return rows, nil
}

func (s *Session) compile(ctx context.Context, m model.Model, p config.Params, loss string, metrics ...string) error {
	opts := model.CompileOptions{
		Optimizer: model.Adam(p.LearningRate, s.decay(p)),
		Loss:      loss,
		Metrics:   metrics,
	}
	if err := m.Compile(ctx, opts); err != nil {
		return fmt.Errorf("failed to compile model: %w", err)
	}
	return nil
}

// showExamples predicts the first validation pages and draws their boxes
func (s *Session) showExamples(ctx context.Context, m model.Model, handler *bbox.Handler, xyVal []types.TrainItem, shape types.Shape, dir string) error {
	n := len(xyVal)
	if n > ExampleCount {
		n = ExampleCount
	}
	if n == 0 {
		s.logs.Test.Printf("WARN: no validation pages to show")
		return nil
	}

	examples := xyVal[:n]
	set := &dataset.Set{Name: "examples", Samples: make([]dataset.Sample, n)}
	for i, it := range examples {
		t, err := s.processor.LoadTensor(it.ImagePath, shape)
		if err != nil {
			return fmt.Errorf("failed to load example %s: %w", it.ImagePath, err)
		}
		set.Samples[i] = dataset.Sample{Path: it.ImagePath, Boxes: it.Annotations, Input: &t}
	}

	preds, err := s.centernet.Predict(ctx, m, set)
	if err != nil {
		return err
	}
	return handler.ShowExamples(preds, examples, dir)
}

// evaluationSteps is 0 for an empty set so Evaluate skips it
func evaluationSteps(set *dataset.Set, batchSize int) int {
	if set.Len() == 0 {
		return 0
	}
	return model.Steps(set.Len(), batchSize)
}

package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/types"
)

// WritePredictions writes the best label of every classified crop as CSV
func WritePredictions(path string, crops []types.Crop, rows [][]float32, vocabulary types.Vocabulary) error {
	if len(crops) != len(rows) {
		return fmt.Errorf("got %d prediction rows for %d crops", len(rows), len(crops))
	}
	labels := vocabulary.Labels()

	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create predictions folder: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"crop", "source", "label", "score", "xmin", "ymin", "xmax", "ymax"}); err != nil {
		return err
	}
	for i, row := range rows {
		best, score := argmax(row)
		if best < 0 || best >= len(labels) {
			return fmt.Errorf("row %d has %d classes, vocabulary has %d", i, len(row), len(labels))
		}
		c := crops[i]
		if err := w.Write([]string{
			c.Path, c.Source, labels[best],
			strconv.FormatFloat(float64(score), 'f', 4, 32),
			strconv.Itoa(c.Box.Min.X), strconv.Itoa(c.Box.Min.Y),
			strconv.Itoa(c.Box.Max.X), strconv.Itoa(c.Box.Max.Y),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func argmax(row []float32) (int, float32) {
	best := -1
	var score float32
	for i, v := range row {
		if best < 0 || v > score {
			best, score = i, v
		}
	}
	return best, score
}

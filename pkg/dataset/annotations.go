package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/charnet/internal/config"
	"github.com/menta2k/charnet/pkg/types"
)

// Record is one row of the training annotation file
type Record struct {
	ImageID     string
	Annotations []types.Annotation
}

// ReadTrainCSV reads an image_id,labels annotation file. Labels are groups
// of five whitespace separated fields: LABEL X Y WIDTH HEIGHT.
func ReadTrainCSV(path string) ([]Record, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty annotation file", path)
	}

	idCol, labelsCol := column(rows[0], "image_id"), column(rows[0], "labels")
	if idCol < 0 || labelsCol < 0 {
		return nil, fmt.Errorf("%s: header must contain image_id and labels", path)
	}

	records := make([]Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if len(row) <= idCol || len(row) <= labelsCol {
			return nil, fmt.Errorf("%s: line %d: missing columns", path, n+2)
		}
		anns, err := ParseLabels(row[labelsCol])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", path, n+2, err)
		}
		records = append(records, Record{ImageID: row[idCol], Annotations: anns})
	}
	return records, nil
}

// ParseLabels parses a labels cell into annotations
func ParseLabels(labels string) ([]types.Annotation, error) {
	fields := strings.Fields(labels)
	if len(fields)%5 != 0 {
		return nil, fmt.Errorf("labels have %d fields, want a multiple of 5", len(fields))
	}

	anns := make([]types.Annotation, 0, len(fields)/5)
	for i := 0; i < len(fields); i += 5 {
		var coords [4]float64
		for j := range coords {
			v, err := strconv.ParseFloat(fields[i+1+j], 64)
			if err != nil {
				return nil, fmt.Errorf("label %s: bad coordinate %q", fields[i], fields[i+1+j])
			}
			coords[j] = v
		}
		anns = append(anns, types.Annotation{
			Label:  fields[i],
			X:      coords[0],
			Y:      coords[1],
			Width:  coords[2],
			Height: coords[3],
		})
	}
	return anns, nil
}

// ReadImageIDs reads the image_id column of a submission manifest
func ReadImageIDs(path string) ([]string, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty manifest", path)
	}

	idCol := column(rows[0], "image_id")
	if idCol < 0 {
		return nil, fmt.Errorf("%s: header must contain image_id", path)
	}

	ids := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) > idCol && row[idCol] != "" {
			ids = append(ids, row[idCol])
		}
	}
	return ids, nil
}

// TestImagePaths resolves the manifest ids into test image paths, in
// manifest order
func TestImagePaths(d config.Dataset) ([]string, error) {
	ids, err := ReadImageIDs(d.SampleSubmission)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = filepath.Join(d.TestImagesDir, id+d.ImageExt)
	}
	return paths, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func column(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
			return i
		}
	}
	return -1
}

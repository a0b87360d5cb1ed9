package cropper

import (
	"encoding/csv"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/processing"
	"github.com/menta2k/charnet/pkg/types"
)

// ManifestName is the file listing the crops of a folder
const ManifestName = "crops.csv"

// Mode selects which crop folder Load reads
type Mode string

const (
	ModeTrain Mode = "train"
	ModeTest  Mode = "test"
)

// CharCropper cuts characters out of pages and caches them on disk
type CharCropper struct {
	processor *processing.Processor
	config    CropConfig
	logger    *log.Logger
}

// CropConfig holds configuration for character cropping
type CropConfig struct {
	// Padding grows every box by this many pixels on each side
	Padding int
	Format  string
}

// New creates a CharCropper with default configuration
func New(logger *log.Logger) *CharCropper {
	return NewWithConfig(CropConfig{Padding: 0, Format: "png"}, logger)
}

// NewWithConfig creates a CharCropper with custom configuration
func NewWithConfig(config CropConfig, logger *log.Logger) *CharCropper {
	if config.Format == "" {
		config.Format = "png"
	}
	return &CharCropper{processor: processing.NewProcessor(), config: config, logger: logger}
}

// RegenerateTrain wipes dir and writes one crop per annotation of every
// item together with the manifest
func (c *CharCropper) RegenerateTrain(items []types.TrainItem, dir string) ([]types.Crop, error) {
	if err := c.reset(dir); err != nil {
		return nil, err
	}

	var crops []types.Crop
	for _, it := range items {
		img, err := c.processor.LoadImage(it.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", it.ImagePath, err)
		}
		for i, a := range it.Annotations {
			crop, ok, err := c.save(img, it.ImagePath, a.Rect(), i, dir)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			crop.Label = a.Label
			crops = append(crops, crop)
		}
	}

	if err := writeManifest(filepath.Join(dir, ManifestName), crops); err != nil {
		return nil, err
	}
	c.logger.Printf("Generated %d training crops in %s", len(crops), dir)
	return crops, nil
}

// RegenerateTest wipes dir and writes one crop per predicted box. Pages are
// visited in sorted path order.
func (c *CharCropper) RegenerateTest(predictions types.BBoxPredictions, dir string) ([]types.Crop, error) {
	if err := c.reset(dir); err != nil {
		return nil, err
	}

	var crops []types.Crop
	for _, path := range predictions.Paths() {
		boxes := predictions[path]
		if len(boxes) == 0 {
			continue
		}
		img, err := c.processor.LoadImage(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		for i, b := range boxes {
			crop, ok, err := c.save(img, path, b.Rect(), i, dir)
			if err != nil {
				return nil, err
			}
			if ok {
				crops = append(crops, crop)
			}
		}
	}

	if err := writeManifest(filepath.Join(dir, ManifestName), crops); err != nil {
		return nil, err
	}
	c.logger.Printf("Generated %d test crops in %s", len(crops), dir)
	return crops, nil
}

// Load reads the crops cached in dir. In test mode a folder without a
// manifest is listed instead.
func (c *CharCropper) Load(dir string, mode Mode) ([]types.Crop, error) {
	manifest := filepath.Join(dir, ManifestName)
	if utils.FileExists(manifest) {
		return readManifest(manifest)
	}
	if mode == ModeTrain {
		return nil, fmt.Errorf("no crop manifest in %s, regenerate the training crops", dir)
	}

	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list crops in %s: %w", dir, err)
	}
	crops := make([]types.Crop, len(files))
	for i, f := range files {
		crops[i] = types.Crop{Path: f}
	}
	return crops, nil
}

// Paths returns the crop file paths in order
func Paths(crops []types.Crop) []string {
	paths := make([]string, len(crops))
	for i, cr := range crops {
		paths[i] = cr.Path
	}
	return paths
}

func (c *CharCropper) reset(dir string) error {
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create crop folder: %w", err)
	}
	if err := utils.ClearDir(dir); err != nil {
		return fmt.Errorf("failed to clear crop folder: %w", err)
	}
	return nil
}

// save writes one crop. ok is false when the box lies outside the page.
func (c *CharCropper) save(img image.Image, source string, rect image.Rectangle, index int, dir string) (types.Crop, bool, error) {
	box := rect.Intersect(img.Bounds())
	if box.Empty() {
		c.logger.Printf("WARN: skipping empty box %v on %s", rect, source)
		return types.Crop{}, false, nil
	}

	cropped, err := c.processor.CropImageToRect(img, box, c.config.Padding)
	if err != nil {
		return types.Crop{}, false, err
	}

	name := fmt.Sprintf("%s_%04d.%s", utils.SanitizeFilename(utils.BaseName(source)), index, c.config.Format)
	path := filepath.Join(dir, name)
	if err := c.processor.SaveImage(cropped, path, c.config.Format, 95, true); err != nil {
		return types.Crop{}, false, fmt.Errorf("failed to save crop %s: %w", path, err)
	}
	return types.Crop{Path: path, Source: source, Box: box}, true, nil
}

var manifestHeader = []string{"path", "label", "source", "xmin", "ymin", "xmax", "ymax"}

func writeManifest(path string, crops []types.Crop) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		return err
	}
	for _, cr := range crops {
		row := []string{
			filepath.Base(cr.Path), cr.Label, cr.Source,
			strconv.Itoa(cr.Box.Min.X), strconv.Itoa(cr.Box.Min.Y),
			strconv.Itoa(cr.Box.Max.X), strconv.Itoa(cr.Box.Max.Y),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readManifest(path string) ([]types.Crop, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(manifestHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("manifest %s has no header", path)
	}

	dir := filepath.Dir(path)
	crops := make([]types.Crop, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var coords [4]int
		for j := range coords {
			v, err := strconv.Atoi(row[3+j])
			if err != nil {
				return nil, fmt.Errorf("manifest %s line %d: %w", path, i+2, err)
			}
			coords[j] = v
		}
		crops = append(crops, types.Crop{
			Path:   filepath.Join(dir, row[0]),
			Label:  row[1],
			Source: row[2],
			Box:    image.Rect(coords[0], coords[1], coords[2], coords[3]),
		})
	}
	return crops, nil
}

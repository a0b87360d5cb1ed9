package bbox

import (
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/charnet/internal/utils"
	"github.com/menta2k/charnet/pkg/types"
)

// grid builds a 4x4 single-category prediction
func grid() types.Tensor {
	t := types.Tensor{Shape: []int{4, 4, 5}, Data: make([]float32, 4*4*5)}
	return t
}

func set(t types.Tensor, y, x int, values ...float32) {
	copy(t.Data[(y*4+x)*5:], values)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-4 }

func TestDecode(t *testing.T) {
	pred := grid()
	// heatmap, offset_x, offset_y, width, height
	set(pred, 1, 2, 0.9, 0.5, 0.5, 0.25, 0.125)
	set(pred, 1, 1, 0.6, 0, 0, 0.1, 0.1) // suppressed by the stronger neighbour
	set(pred, 3, 0, 0.4, 0, 0, 0.1, 0.1)
	set(pred, 3, 3, 0.1, 0, 0, 0.1, 0.1) // below threshold

	h := NewHandler(0.3, 0, nil)
	boxes, err := h.Decode(pred, 1, 400, 800)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("Expected 2 boxes, got %d: %+v", len(boxes), boxes)
	}

	b := boxes[0]
	// center (2.5/4*400, 1.5/4*800) = (250, 300), size 100 x 100
	if !near(b.Score, 0.9) || !near(b.XMin, 200) || !near(b.XMax, 300) || !near(b.YMin, 250) || !near(b.YMax, 350) {
		t.Errorf("Unexpected first box: %+v", b)
	}
	if b.Category != 0 {
		t.Errorf("Expected category 0, got %d", b.Category)
	}
	if boxes[1].Score > boxes[0].Score {
		t.Error("Boxes must be sorted by score")
	}
}

func TestDecodeMaxBoxes(t *testing.T) {
	pred := grid()
	set(pred, 0, 0, 0.5, 0, 0, 0.1, 0.1)
	set(pred, 0, 3, 0.7, 0, 0, 0.1, 0.1)
	set(pred, 3, 0, 0.9, 0, 0, 0.1, 0.1)

	h := NewHandler(0.3, 2, nil)
	boxes, err := h.Decode(pred, 1, 100, 100)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(boxes) != 2 || !near(boxes[0].Score, 0.9) || !near(boxes[1].Score, 0.7) {
		t.Errorf("Expected the two best boxes, got %+v", boxes)
	}
}

func TestDecodeRejectsShape(t *testing.T) {
	h := NewHandler(0.3, 0, nil)
	if _, err := h.Decode(types.Tensor{Shape: []int{4, 4, 3}, Data: make([]float32, 48)}, 1, 10, 10); err == nil {
		t.Error("Expected channel count error")
	}
	if _, err := h.Decode(types.Tensor{Shape: []int{16}}, 1, 10, 10); err == nil {
		t.Error("Expected rank error")
	}
}

func TestGetBoxesOneEntryPerPath(t *testing.T) {
	h := NewHandler(0.3, 0, nil)
	h.sizer = func(string) (int, int, error) { return 100, 100, nil }

	withBox := grid()
	set(withBox, 2, 2, 0.8, 0, 0, 0.1, 0.1)

	preds, err := h.GetBoxes([]types.Tensor{withBox, grid()}, []string{"a.jpg", "b.jpg"})
	if err != nil {
		t.Fatalf("GetBoxes failed: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(preds))
	}
	if len(preds["a.jpg"]) != 1 {
		t.Errorf("Expected one box for a.jpg, got %d", len(preds["a.jpg"]))
	}
	if b, ok := preds["b.jpg"]; !ok || b == nil || len(b) != 0 {
		t.Errorf("Expected empty entry for b.jpg, got %v", b)
	}

	if _, err := h.GetBoxes([]types.Tensor{withBox}, []string{"a.jpg", "b.jpg"}); err == nil {
		t.Error("Expected length mismatch error")
	}
}

func TestShowExamples(t *testing.T) {
	src := t.TempDir()
	page := filepath.Join(src, "page.png")
	if err := imaging.Save(imaging.New(100, 100, color.White), page); err != nil {
		t.Fatal(err)
	}

	pred := grid()
	set(pred, 2, 2, 0.8, 0, 0, 0.1, 0.1)
	items := []types.TrainItem{{
		ImagePath:   page,
		Annotations: []types.Annotation{{Label: "U+0041", X: 10, Y: 10, Width: 20, Height: 20}},
	}}

	dir := filepath.Join(t.TempDir(), "examples")
	h := NewHandler(0.3, 0, nil)
	if err := h.ShowExamples([]types.Tensor{pred}, items, dir); err != nil {
		t.Fatalf("ShowExamples failed: %v", err)
	}
	if !utils.FileExists(filepath.Join(dir, "page_boxes.png")) {
		t.Error("Expected overlay to be written")
	}
}

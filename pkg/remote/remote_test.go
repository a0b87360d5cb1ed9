package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/model"
	"github.com/menta2k/charnet/pkg/types"
)

// fakeService records the calls made against it
type fakeService struct {
	mu       sync.Mutex
	calls    []string
	ids      []string
	arch     model.Architecture
	fitEpoch model.Epoch
	loaded   string
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
	s.ids = append(s.ids, r.Header.Get(RequestIDHeader))

	switch r.URL.Path {
	case "/v1/models":
		json.NewDecoder(r.Body).Decode(&s.arch)
		json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
	case "/v1/models/m1/compile", "/v1/models/m1/learning_rate", "/v1/models/m1/weights/save":
		w.WriteHeader(http.StatusOK)
	case "/v1/models/m1/weights/load":
		var req pathRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.loaded = req.Path
	case "/v1/models/m1/fit":
		json.NewDecoder(r.Body).Decode(&s.fitEpoch)
		json.NewEncoder(w).Encode(map[string]any{"logs": map[string]float64{"loss": 0.5, "val_loss": 0.4}})
	case "/v1/models/m1/evaluate":
		json.NewEncoder(w).Encode(map[string]any{"metrics": []float64{1, 2, 3, 4}})
	case "/v1/models/m1/predict":
		var req predictRequest
		json.NewDecoder(r.Body).Decode(&req)
		preds := make([]types.Tensor, req.Set.Len())
		for i := range preds {
			preds[i] = types.Tensor{Shape: []int{2}, Data: []float32{0.25, 0.75}}
		}
		json.NewEncoder(w).Encode(map[string]any{"predictions": preds})
	case "/v1/models/m1/summary":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"summary": "hourglass(1)"})
	default:
		http.Error(w, "no such model", http.StatusNotFound)
	}
}

func newService(t *testing.T) (*fakeService, *Framework) {
	t.Helper()
	svc := &fakeService{}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	return svc, New(srv.URL+"/", srv.Client())
}

func TestModelLifecycle(t *testing.T) {
	svc, fw := newService(t)
	ctx := context.Background()

	m, err := fw.Build(ctx, model.Architecture{Mode: model.ModeDetection, Categories: 1, Input: types.Shape{Width: 512, Height: 512, Channels: 3}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if svc.arch.Mode != model.ModeDetection || svc.arch.Input.Width != 512 {
		t.Errorf("Architecture not forwarded: %+v", svc.arch)
	}

	if err := m.Compile(ctx, model.CompileOptions{Optimizer: model.Adam(0.001, 0), Loss: model.LossCenterNet}); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if err := m.LoadWeights(ctx, "weights/run/detection/weights.05-0.23.hdf5"); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if svc.loaded != "weights/run/detection/weights.05-0.23.hdf5" {
		t.Errorf("Unexpected load path %q", svc.loaded)
	}

	set := &dataset.Set{Name: "training", Samples: []dataset.Sample{{Path: "a.jpg"}, {Path: "b.jpg"}}}
	logs, err := m.FitEpoch(ctx, model.Epoch{Epoch: 3, Training: set, Validation: set, TrainingSteps: 1, ValidationSteps: 1, BatchSize: 8})
	if err != nil {
		t.Fatalf("FitEpoch failed: %v", err)
	}
	if logs["val_loss"] != 0.4 {
		t.Errorf("Unexpected logs %v", logs)
	}
	if svc.fitEpoch.Epoch != 3 || svc.fitEpoch.Training.Len() != 2 {
		t.Errorf("Epoch not forwarded: %+v", svc.fitEpoch)
	}

	metrics, err := m.Evaluate(ctx, set, 1)
	if err != nil || len(metrics) != 4 {
		t.Errorf("Evaluate returned %v, %v", metrics, err)
	}

	preds, err := m.Predict(ctx, set)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(preds) != 2 || preds[1].Data[1] != 0.75 {
		t.Errorf("Unexpected predictions %+v", preds)
	}

	summary, err := m.Summary(ctx)
	if err != nil || summary != "hourglass(1)" {
		t.Errorf("Summary returned %q, %v", summary, err)
	}

	for i, id := range svc.ids {
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("Call %d (%s) has invalid request id %q", i, svc.calls[i], id)
		}
	}
	if svc.ids[0] == svc.ids[1] {
		t.Error("Request ids must differ between calls")
	}
}

func TestErrorCarriesBody(t *testing.T) {
	_, fw := newService(t)
	m := &Model{framework: fw, ID: "missing"}

	err := m.Compile(context.Background(), model.CompileOptions{})
	if err == nil {
		t.Fatal("Expected error for unknown model")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "no such model") {
		t.Errorf("Expected status and body in error, got %v", err)
	}
}

// Package remote drives a network training service over JSON/HTTP. The
// service owns the layers, losses and the forward/backward pass; this
// package only forwards the calls of model.Model.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/charnet/pkg/dataset"
	"github.com/menta2k/charnet/pkg/model"
	"github.com/menta2k/charnet/pkg/types"
)

// RequestIDHeader carries a fresh uuid on every request
const RequestIDHeader = "X-Request-ID"

// Framework builds models on a remote service
type Framework struct {
	baseURL    string
	httpClient *http.Client
}

// New creates the framework. The default client has no timeout, calls are
// bounded by ctx only.
func New(serverURL string, httpClient *http.Client) *Framework {
	if serverURL == "" {
		serverURL = "http://localhost:8500"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Framework{baseURL: strings.TrimSuffix(serverURL, "/"), httpClient: httpClient}
}

type createResponse struct {
	ID string `json:"id"`
}

// Build creates the network on the service
func (f *Framework) Build(ctx context.Context, arch model.Architecture) (model.Model, error) {
	var resp createResponse
	if err := f.call(ctx, http.MethodPost, "/v1/models", arch, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("service returned no model id")
	}
	return &Model{framework: f, ID: resp.ID}, nil
}

// Model is a network living on the service
type Model struct {
	framework *Framework
	ID        string
}

type pathRequest struct {
	Path string `json:"path"`
}

type rateRequest struct {
	LearningRate float64 `json:"learning_rate"`
}

type fitResponse struct {
	Logs model.Logs `json:"logs"`
}

type evaluateRequest struct {
	Set   *dataset.Set `json:"set"`
	Steps int          `json:"steps"`
}

type evaluateResponse struct {
	Metrics []float64 `json:"metrics"`
}

type predictRequest struct {
	Set *dataset.Set `json:"set"`
}

type predictResponse struct {
	Predictions []types.Tensor `json:"predictions"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

func (m *Model) Compile(ctx context.Context, opts model.CompileOptions) error {
	return m.post(ctx, "compile", opts, nil)
}

func (m *Model) LoadWeights(ctx context.Context, path string) error {
	return m.post(ctx, "weights/load", pathRequest{Path: path}, nil)
}

func (m *Model) SaveWeights(ctx context.Context, path string) error {
	return m.post(ctx, "weights/save", pathRequest{Path: path}, nil)
}

func (m *Model) SetLearningRate(ctx context.Context, lr float64) error {
	return m.post(ctx, "learning_rate", rateRequest{LearningRate: lr}, nil)
}

func (m *Model) FitEpoch(ctx context.Context, epoch model.Epoch) (model.Logs, error) {
	var resp fitResponse
	if err := m.post(ctx, "fit", epoch, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (m *Model) Evaluate(ctx context.Context, set *dataset.Set, steps int) ([]float64, error) {
	var resp evaluateResponse
	if err := m.post(ctx, "evaluate", evaluateRequest{Set: set, Steps: steps}, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}

func (m *Model) Predict(ctx context.Context, set *dataset.Set) ([]types.Tensor, error) {
	var resp predictResponse
	if err := m.post(ctx, "predict", predictRequest{Set: set}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != set.Len() {
		return nil, fmt.Errorf("service returned %d predictions for %d samples", len(resp.Predictions), set.Len())
	}
	return resp.Predictions, nil
}

func (m *Model) Summary(ctx context.Context) (string, error) {
	var resp summaryResponse
	if err := m.framework.call(ctx, http.MethodGet, m.path("summary"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

func (m *Model) path(action string) string {
	return "/v1/models/" + m.ID + "/" + action
}

func (m *Model) post(ctx context.Context, action string, payload, out interface{}) error {
	return m.framework.call(ctx, http.MethodPost, m.path(action), payload, out)
}

func (f *Framework) call(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: server returned status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response of %s: %w", endpoint, err)
	}
	return nil
}

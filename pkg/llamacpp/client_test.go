package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSimpleQuery(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "U+0042"}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	answer, err := c.SimpleQuery(context.Background(), "minicpm", "which character?", "aGVsbG8=")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if answer != "U+0042" {
		t.Errorf("Expected U+0042, got %q", answer)
	}
	if got.Model != "minicpm" || len(got.Messages) != 1 {
		t.Errorf("Unexpected request: %+v", got)
	}
}

func TestSimpleQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.SimpleQuery(context.Background(), "m", "p", "")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestSimpleQueryNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if _, err := c.SimpleQuery(context.Background(), "m", "p", ""); err == nil {
		t.Error("Expected error for empty choices")
	}
}

func TestAnswerText(t *testing.T) {
	tests := []struct {
		name    string
		content interface{}
		want    string
		wantErr bool
	}{
		{"string", "あ", "あ", false},
		{"parts", []interface{}{map[string]interface{}{"type": "text", "text": "U+3042"}}, "U+3042", false},
		{"empty string", "", "", true},
		{"no text part", []interface{}{map[string]interface{}{"type": "image_url"}}, "", true},
		{"nil", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := answerText(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("answerText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("answerText() = %q, want %q", got, tt.want)
			}
		})
	}
}

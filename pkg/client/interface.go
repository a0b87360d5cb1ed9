// Package client defines the vision-model contract shared by the Ollama and
// llama.cpp backends.
package client

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/charnet/pkg/llamacpp"
	"github.com/menta2k/charnet/pkg/ollama"
)

// VisionClient answers a prompt about a single base64-encoded image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// New returns the client of a backend: "ollama" or "llamacpp"
func New(backend, serverURL string) (VisionClient, error) {
	switch backend {
	case "ollama":
		return ollama.NewClient(serverURL)
	case "llamacpp":
		return llamacpp.NewClient(serverURL)
	default:
		return nil, fmt.Errorf("unsupported vision backend: %s", backend)
	}
}

var (
	reBlock  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reSpaces = regexp.MustCompile(`\s+`)
)

// CleanAnswer reduces a free-form model answer to its first line without
// code fences, comments, quotes or trailing punctuation
func CleanAnswer(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")
	raw = reBlock.ReplaceAllString(raw, "")

	if i := strings.Index(raw, "\n"); i >= 0 {
		raw = raw[:i]
	}
	raw = reSpaces.ReplaceAllString(strings.TrimSpace(raw), " ")
	raw = strings.Trim(raw, `"'.,;:!`)
	return strings.TrimSpace(raw)
}

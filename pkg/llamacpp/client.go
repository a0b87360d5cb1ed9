// Package llamacpp talks to a llama.cpp server through its OpenAI
// compatible chat endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const chatEndpoint = "/v1/chat/completions"

// Sampling used for single-label answers
const (
	answerTemperature = 0
	answerMaxTokens   = 16
)

var errNoText = errors.New("no text content in response")

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Message content is either a string or a list of Part
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type ChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// SimpleQuery sends prompt together with an optional base64 PNG and
// returns the first text answer
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	parts := []Part{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, Part{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/png;base64," + imgB64},
		})
	}

	var resp ChatResponse
	err := c.post(ctx, chatEndpoint, ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: parts}},
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("llama.cpp query failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llama.cpp query failed: no choices in response")
	}
	return answerText(resp.Choices[0].Message.Content)
}

func answerText(content interface{}) (string, error) {
	switch v := content.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []interface{}:
		for _, item := range v {
			part, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, _ := part["text"].(string); text != "" {
				return text, nil
			}
		}
	}
	return "", errNoText
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Package advisor holds the concrete selection.Advisor implementations:
// independent AI text-generation sources the selection pipeline polls
// in parallel for earnings-candidate tickers. Grounded on
// original_source/gpt/grok/grok_base.py and
// original_source/gpt/gemini/gemini_base.py, both of which implement the
// same single-method IGPTClient.generate_text protocol the pipeline's
// Advisor interface mirrors.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GrokAdvisor calls x.ai's OpenAI-compatible Chat Completions endpoint.
// Grounded on original_source/gpt/grok/grok_base.py's
// _call_api (Bearer auth header, POST /v1/chat/completions, single
// user-role message, response.choices[0].message.content extraction).
type GrokAdvisor struct {
	APIKey     string
	BaseURL    string // default https://api.x.ai/v1
	Model      string // default grok-beta
	HTTPClient *http.Client
}

// NewGrokAdvisor builds a Grok advisor with the teacher-equivalent
// defaults (base URL, model, timeout) filled in.
func NewGrokAdvisor(apiKey string) *GrokAdvisor {
	return &GrokAdvisor{
		APIKey:     apiKey,
		BaseURL:    "https://api.x.ai/v1",
		Model:      "grok-beta",
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *GrokAdvisor) Name() string { return "grok" }

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Recommend sends prompt as a single user message and returns the
// model's raw text response.
func (a *GrokAdvisor) Recommend(ctx context.Context, prompt string) (string, error) {
	payload := chatCompletionRequest{
		Model:       a.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0.7,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("grok advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("grok advisor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("grok advisor: http post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("grok advisor: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("grok advisor: unexpected status %d: %s", resp.StatusCode, raw)
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("grok advisor: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("grok advisor: empty choices in response")
	}

	return decoded.Choices[0].Message.Content, nil
}

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

// GeminiAdvisor calls Google's Gemini generateContent REST endpoint.
// Grounded on original_source/gpt/gemini/gemini_base.py's
// generate_text (system-priming user/model turn pair followed by the
// real prompt, text parts concatenated from the first candidate). The
// original drives the google-genai SDK with a Google Search tool and a
// HIGH thinking level; this adapter uses the plain REST surface (no Go
// SDK in the pack to ground an SDK-based client on) with an equivalent
// system-priming turn pair.
type GeminiAdvisor struct {
	APIKey     string
	BaseURL    string // default https://generativelanguage.googleapis.com/v1beta
	Model      string // default gemini-3-pro-preview
	HTTPClient *http.Client
}

const geminiSystemPrompt = "You are a financial stock analyst. Analyze the provided earnings " +
	"stocks and provide your top recommendations with stock tickers."

// NewGeminiAdvisor builds a Gemini advisor with the teacher-equivalent
// defaults filled in.
func NewGeminiAdvisor(apiKey string) *GeminiAdvisor {
	return &GeminiAdvisor{
		APIKey:     apiKey,
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-3-pro-preview",
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *GeminiAdvisor) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Recommend sends a system-priming turn pair followed by prompt, in the
// shape the original's conversational contents array uses, and
// concatenates the text parts of the first candidate.
func (a *GeminiAdvisor) Recommend(ctx context.Context, prompt string) (string, error) {
	payload := geminiGenerateRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: geminiSystemPrompt}}},
			{Role: "model", Parts: []geminiPart{{Text: "Understood. I will analyze earnings stocks and recommend tickers."}}},
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini advisor: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.BaseURL, a.Model, a.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini advisor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini advisor: http post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini advisor: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini advisor: unexpected status %d: %s", resp.StatusCode, raw)
	}

	var decoded geminiGenerateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("gemini advisor: decode response: %w", err)
	}
	if len(decoded.Candidates) == 0 {
		return "", fmt.Errorf("gemini advisor: empty candidates in response")
	}

	var text bytes.Buffer
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

package rewrite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiConfig configures the language-model backend.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API. Rewriting is
	// disabled entirely when it is empty.
	APIKey string

	// Model names the generation model.
	Model string

	// Temperature keeps rewrites close to the source text.
	Temperature float64

	// MaxTokens bounds the rewritten output.
	MaxTokens int

	// Timeout bounds one whole generation call, streaming included.
	Timeout time.Duration

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultGeminiURL
	}
	return c
}

type geminiClient struct {
	config GeminiConfig
	http   *http.Client
}

func newGeminiClient(cfg GeminiConfig) *geminiClient {
	cfg = cfg.withDefaults()
	return &geminiClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

func (c *geminiClient) buildRequest(prompt string) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxTokens,
		},
	}
}

// generate runs one blocking generation call and returns the full
// model output.
func (c *geminiClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(c.buildRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("rewrite: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.config.BaseURL, c.config.Model, c.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rewrite: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("rewrite: gemini request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("rewrite: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rewrite: gemini API error %d: %s", resp.StatusCode, string(payload))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("rewrite: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("rewrite: gemini error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.text(), nil
}

// generateStream starts a streaming generation call. Fragments arrive
// on the first channel; once it closes, the second channel delivers
// exactly one value describing how the stream ended.
func (c *geminiClient) generateStream(ctx context.Context, prompt string) (<-chan string, <-chan error, error) {
	body, err := json.Marshal(c.buildRequest(prompt))
	if err != nil {
		return nil, nil, fmt.Errorf("rewrite: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse&key=%s", c.config.BaseURL, c.config.Model, c.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("rewrite: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("rewrite: gemini request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("rewrite: gemini API error %d: %s", resp.StatusCode, string(payload))
	}

	fragments := make(chan string, 16)
	done := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(fragments)

		scanner := bufio.NewScanner(resp.Body)
		// Single SSE events can exceed the default line limit.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			text := chunk.text()
			if text == "" {
				continue
			}

			select {
			case fragments <- text:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
		done <- scanner.Err()
	}()

	return fragments, done, nil
}

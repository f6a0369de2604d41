package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"dictate/internal/logging"
)

const defaultDeepgramURL = "https://api.deepgram.com/v1/listen"

// DeepgramConfig holds settings for the Deepgram prerecorded API.
type DeepgramConfig struct {
	APIKey   string
	Model    string // defaults to nova-3
	Language string // defaults to en-US
	BaseURL  string // overridable for tests
	Timeout  time.Duration
}

// deepgramBackend calls the Deepgram prerecorded listen endpoint with
// the WAV file as the request body.
type deepgramBackend struct {
	config DeepgramConfig
	http   *http.Client
	logger *logging.Logger
}

func newDeepgram(cfg DeepgramConfig, logger *logging.Logger) (*deepgramBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transcribe: deepgram API key is not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &deepgramBackend{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (d *deepgramBackend) Name() string { return "deepgram" }

// Transcribe uploads the audio and extracts the first alternative of
// the first channel. Responses without channels or alternatives yield
// an empty transcript, not an error.
func (d *deepgramBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: read audio file: %w", err)
	}

	q := url.Values{}
	q.Set("model", d.config.Model)
	q.Set("language", d.config.Language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("mip_opt_out", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.BaseURL+"?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.config.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: deepgram API error %d: %s", resp.StatusCode, string(body))
	}

	var apiResp deepgramResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("transcribe: parse response: %w", err)
	}

	if len(apiResp.Results.Channels) == 0 {
		d.logger.Warn("deepgram response has no channels")
		return "", nil
	}
	alts := apiResp.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		d.logger.Warn("deepgram response has no alternatives")
		return "", nil
	}

	d.logger.Debug("deepgram transcription received",
		"confidence", alts[0].Confidence,
		"chars", len(alts[0].Transcript))
	return alts[0].Transcript, nil
}

// deepgramResponse is the subset of the prerecorded API response the
// backend reads.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

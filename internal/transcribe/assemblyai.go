package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"dictate/internal/logging"
)

const defaultAssemblyAIURL = "https://api.assemblyai.com"

// AssemblyAIConfig holds settings for the AssemblyAI transcript API.
type AssemblyAIConfig struct {
	APIKey       string
	SpeechModel  string // defaults to best
	BaseURL      string // overridable for tests
	PollInterval time.Duration
	Timeout      time.Duration
}

// assemblyAIBackend drives the three-step AssemblyAI flow: upload the
// audio, create a transcript job, poll until it settles.
type assemblyAIBackend struct {
	config AssemblyAIConfig
	http   *http.Client
	logger *logging.Logger
}

func newAssemblyAI(cfg AssemblyAIConfig, logger *logging.Logger) (*assemblyAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transcribe: assemblyai API key is not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAssemblyAIURL
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = "best"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &assemblyAIBackend{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (a *assemblyAIBackend) Name() string { return "assemblyai" }

func (a *assemblyAIBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audioURL, err := a.upload(ctx, audioPath)
	if err != nil {
		return "", err
	}

	id, err := a.createTranscript(ctx, audioURL)
	if err != nil {
		return "", err
	}
	a.logger.Debug("assemblyai transcript queued", "id", id)

	return a.pollTranscript(ctx, id)
}

// upload pushes the raw audio bytes and returns the temporary URL
// AssemblyAI assigns to them.
func (a *assemblyAIBackend) upload(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: read audio file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("transcribe: create upload request: %w", err)
	}
	req.Header.Set("Authorization", a.config.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := a.do(req, &result); err != nil {
		return "", err
	}
	if result.UploadURL == "" {
		return "", errors.New("transcribe: assemblyai upload returned no URL")
	}
	return result.UploadURL, nil
}

// createTranscript submits a transcription job for uploaded audio.
func (a *assemblyAIBackend) createTranscript(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"audio_url":    audioURL,
		"speech_model": a.config.SpeechModel,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: encode transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("transcribe: create transcript request: %w", err)
	}
	req.Header.Set("Authorization", a.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var result assemblyAITranscript
	if err := a.do(req, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", errors.New("transcribe: assemblyai returned no transcript id")
	}
	return result.ID, nil
}

// pollTranscript waits for the job to settle. The context bounds the
// whole wait.
func (a *assemblyAIBackend) pollTranscript(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("transcribe: waiting for assemblyai transcript: %w", ctx.Err())
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+"/v2/transcript/"+id, nil)
		if err != nil {
			return "", fmt.Errorf("transcribe: create poll request: %w", err)
		}
		req.Header.Set("Authorization", a.config.APIKey)

		var result assemblyAITranscript
		if err := a.do(req, &result); err != nil {
			return "", err
		}

		switch result.Status {
		case "completed":
			return result.Text, nil
		case "error":
			return "", fmt.Errorf("transcribe: assemblyai transcription failed: %s", result.Error)
		default:
			a.logger.Debug("assemblyai transcript pending", "id", id, "status", result.Status)
		}
	}
}

// do runs the request and decodes a JSON response into out.
func (a *assemblyAIBackend) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("transcribe: assemblyai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transcribe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcribe: assemblyai API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("transcribe: parse response: %w", err)
	}
	return nil
}

// assemblyAITranscript is the subset of the transcript resource the
// backend reads.
type assemblyAITranscript struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

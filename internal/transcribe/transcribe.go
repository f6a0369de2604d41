// Package transcribe converts recorded audio into text through hosted
// speech-to-text services.
//
// A Backend wraps one provider's REST API. The Service in front of it
// validates the recording before any network call and normalises the
// returned transcript. Silence is not an error: a provider may return
// an empty transcript and the caller decides what to do with it.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dictate/internal/logging"
)

var (
	// ErrAudioMissing is returned when the recording does not exist on
	// disk.
	ErrAudioMissing = errors.New("transcribe: audio file does not exist")

	// ErrAudioEmpty is returned when the recording exists but holds no
	// audio.
	ErrAudioEmpty = errors.New("transcribe: audio file is empty")

	// ErrUnknownBackend is returned by New for an unrecognised backend
	// name.
	ErrUnknownBackend = errors.New("transcribe: unknown backend")
)

// Backend is a single speech-to-text provider.
type Backend interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe uploads the audio file and returns the raw transcript.
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Config selects and configures a transcription backend.
type Config struct {
	// Backend is the provider name: deepgram or assemblyai.
	Backend string

	// Timeout bounds each HTTP request to the provider.
	Timeout time.Duration

	Deepgram   DeepgramConfig
	AssemblyAI AssemblyAIConfig
}

// Service validates recordings and runs them through a backend.
type Service struct {
	backend Backend
	logger  *logging.Logger
}

// New builds a Service with the backend named in cfg.
func New(cfg Config, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("transcribe")

	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(cfg.Backend) {
	case "deepgram":
		dg := cfg.Deepgram
		if dg.Timeout == 0 {
			dg.Timeout = cfg.Timeout
		}
		backend, err = newDeepgram(dg, logger)
	case "assemblyai":
		aai := cfg.AssemblyAI
		if aai.Timeout == 0 {
			aai.Timeout = cfg.Timeout
		}
		backend, err = newAssemblyAI(aai, logger)
	default:
		return nil, fmt.Errorf("%w: %q (supported: deepgram, assemblyai)", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewService(backend, logger), nil
}

// NewService wraps an already constructed backend.
func NewService(backend Backend, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default().WithComponent("transcribe")
	}
	return &Service{backend: backend, logger: logger}
}

// Backend returns the active provider name.
func (s *Service) Backend() string {
	return s.backend.Name()
}

// TranscribeFile checks that the recording exists and is non-empty,
// then hands it to the backend. The transcript comes back trimmed of
// surrounding whitespace; an empty transcript is returned as "".
func (s *Service) TranscribeFile(ctx context.Context, audioPath string) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrAudioMissing, audioPath)
		}
		return "", fmt.Errorf("transcribe: stat audio file: %w", err)
	}
	if info.Size() == 0 {
		return "", ErrAudioEmpty
	}

	s.logger.Info("starting transcription",
		"backend", s.backend.Name(),
		"path", audioPath,
		"bytes", info.Size())

	transcript, err := s.backend.Transcribe(ctx, audioPath)
	if err != nil {
		return "", err
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		s.logger.Warn("transcription returned no text", "backend", s.backend.Name())
	} else {
		s.logger.Info("transcription completed", "chars", len(transcript))
	}
	return transcript, nil
}

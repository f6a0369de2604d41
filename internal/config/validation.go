// Package config handles configuration loading and validation for dictate.
package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	// Validate version
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if audioErrs := validateAudio(&c.Audio); len(audioErrs) > 0 {
		errs = append(errs, audioErrs...)
	}

	if transErrs := validateTranscription(&c.Transcription); len(transErrs) > 0 {
		errs = append(errs, transErrs...)
	}

	if rewriteErrs := validateRewrite(&c.Rewrite); len(rewriteErrs) > 0 {
		errs = append(errs, rewriteErrs...)
	}

	if typingErrs := validateTyping(&c.Typing); len(typingErrs) > 0 {
		errs = append(errs, typingErrs...)
	}

	if notifyErrs := validateNotify(&c.Notify); len(notifyErrs) > 0 {
		errs = append(errs, notifyErrs...)
	}

	if sessionErrs := validateSession(&c.Session); len(sessionErrs) > 0 {
		errs = append(errs, sessionErrs...)
	}

	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAudio(a *AudioConfig) ValidationErrors {
	var errs ValidationErrors

	if a.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "audio.command",
			Message: "capture command is required",
		})
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		errs = append(errs, ValidationError{
			Field:   "audio.sample_rate",
			Message: fmt.Sprintf("sample rate must be 8000-48000 Hz, got %d", a.SampleRate),
		})
	}

	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, ValidationError{
			Field:   "audio.channels",
			Message: fmt.Sprintf("channels must be 1 or 2, got %d", a.Channels),
		})
	}

	switch a.SampleFormat {
	case "s16ne", "s16le", "s16be":
		// Valid 16-bit formats
	default:
		errs = append(errs, ValidationError{
			Field:   "audio.sample_format",
			Message: fmt.Sprintf("invalid sample format: %s (valid: s16ne, s16le, s16be)", a.SampleFormat),
		})
	}

	if a.LatencyMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "audio.latency_ms",
			Message: "latency must be at least 1ms",
		})
	}

	if a.RecordingPath == "" {
		errs = append(errs, ValidationError{
			Field:   "audio.recording_path",
			Message: "recording path is required",
		})
	}

	if a.StopGraceSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "audio.stop_grace_sec",
			Message: "stop grace must be at least 1 second",
		})
	}

	return errs
}

func validateTranscription(t *TranscriptionConfig) ValidationErrors {
	var errs ValidationErrors

	switch t.Backend {
	case "deepgram", "assemblyai":
		// Valid backends
	default:
		errs = append(errs, ValidationError{
			Field:   "transcription.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: deepgram, assemblyai)", t.Backend),
		})
	}

	if t.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "transcription.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	if t.Deepgram.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "transcription.deepgram.model",
			Message: "model is required",
		})
	}

	if t.Deepgram.Language == "" {
		errs = append(errs, ValidationError{
			Field:   "transcription.deepgram.language",
			Message: "language is required",
		})
	}

	if t.AssemblyAI.SpeechModel == "" {
		errs = append(errs, ValidationError{
			Field:   "transcription.assemblyai.speech_model",
			Message: "speech model is required",
		})
	}

	return errs
}

func validateRewrite(r *RewriteConfig) ValidationErrors {
	var errs ValidationErrors

	if r.Model == "" {
		errs = append(errs, ValidationError{
			Field:   "rewrite.model",
			Message: "model is required",
		})
	}

	if r.Temperature < 0.0 || r.Temperature > 2.0 {
		errs = append(errs, ValidationError{
			Field:   "rewrite.temperature",
			Message: "temperature must be between 0.0 and 2.0",
		})
	}

	if r.MaxTokens < 1 {
		errs = append(errs, ValidationError{
			Field:   "rewrite.max_tokens",
			Message: "max tokens must be at least 1",
		})
	}

	if r.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "rewrite.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	if r.DirectivesPath == "" {
		errs = append(errs, ValidationError{
			Field:   "rewrite.directives_path",
			Message: "directives path is required",
		})
	}

	return errs
}

func validateTyping(t *TypingConfig) ValidationErrors {
	var errs ValidationErrors

	switch t.Method {
	case "xdotool", "paste":
		// Valid methods
	default:
		errs = append(errs, ValidationError{
			Field:   "typing.method",
			Message: fmt.Sprintf("invalid method: %s (valid: xdotool, paste)", t.Method),
		})
	}

	if t.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "typing.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	return errs
}

func validateNotify(n *NotifyConfig) ValidationErrors {
	var errs ValidationErrors

	if n.TimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "notify.timeout_ms",
			Message: "timeout cannot be negative",
		})
	}

	return errs
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors

	if s.PidFile == "" {
		errs = append(errs, ValidationError{
			Field:   "session.pid_file",
			Message: "pid file path is required",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file", "both":
		if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output includes 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	if l.JournalEnabled && l.JournalPath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.journal_path",
			Message: "journal path is required when the journal is enabled",
		})
	}

	return errs
}

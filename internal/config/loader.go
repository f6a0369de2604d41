// Package config handles configuration loading and validation for dictate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dictate/internal/security"
)

// LoadFromEnv creates a configuration primarily from environment variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg
}

// LoadOrCreate loads the configuration from the specified path,
// creating a default configuration file if it doesn't exist.
// The boolean result reports whether a new file was written.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("validation failed: %w", err)
	}

	return cfg, false, nil
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	// Determine format from extension
	ext := filepath.Ext(path)

	var data []byte
	var err error

	switch ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		// Default to TOML
		data = []byte(generateTOML(cfg))
	}

	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	// Atomic write with owner-only permissions; the file may hold API keys.
	if err := security.WriteFileAtomic(path, data, security.PermSecretFile); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// generateTOML generates a well-formatted TOML configuration file.
func generateTOML(cfg *Config) string {
	return fmt.Sprintf(`# dictate configuration
# Version %d
#
# API keys are read from the environment (DEEPGRAM_API_KEY,
# ASSEMBLYAI_API_KEY, GEMINI_API_KEY) or from a .env file in the
# working directory. Values set there override this file.

version = %d

[audio]
command = "%s"
device = "%s"
sample_rate = %d
channels = %d
sample_format = "%s"
latency_ms = %d
recording_path = "%s"
stop_grace_sec = %d

[transcription]
backend = "%s"
timeout_sec = %d

[transcription.deepgram]
model = "%s"
language = "%s"
api_key = "%s"

[transcription.assemblyai]
speech_model = "%s"
api_key = "%s"

[rewrite]
model = "%s"
temperature = %g
max_tokens = %d
timeout_sec = %d
api_key = "%s"
directives_path = "%s"
watch_directives = %t
indicator = "%s"
streaming = %t

[typing]
method = "%s"
timeout_sec = %d

[notify]
enabled = %t
timeout_ms = %d

[session]
pid_file = "%s"

[logging]
level = "%s"
format = "%s"
output = "%s"
file_path = "%s"
max_size_mb = %d
max_backups = %d
max_age_days = %d
compress = %t
journal_enabled = %t
journal_path = "%s"
`,
		Version,
		cfg.Version,
		cfg.Audio.Command,
		cfg.Audio.Device,
		cfg.Audio.SampleRate,
		cfg.Audio.Channels,
		cfg.Audio.SampleFormat,
		cfg.Audio.LatencyMs,
		cfg.Audio.RecordingPath,
		cfg.Audio.StopGraceSec,
		cfg.Transcription.Backend,
		cfg.Transcription.TimeoutSec,
		cfg.Transcription.Deepgram.Model,
		cfg.Transcription.Deepgram.Language,
		cfg.Transcription.Deepgram.APIKey,
		cfg.Transcription.AssemblyAI.SpeechModel,
		cfg.Transcription.AssemblyAI.APIKey,
		cfg.Rewrite.Model,
		cfg.Rewrite.Temperature,
		cfg.Rewrite.MaxTokens,
		cfg.Rewrite.TimeoutSec,
		cfg.Rewrite.APIKey,
		cfg.Rewrite.DirectivesPath,
		cfg.Rewrite.WatchDirectives,
		cfg.Rewrite.Indicator,
		cfg.Rewrite.Streaming,
		cfg.Typing.Method,
		cfg.Typing.TimeoutSec,
		cfg.Notify.Enabled,
		cfg.Notify.TimeoutMs,
		cfg.Session.PidFile,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		cfg.Logging.JournalEnabled,
		cfg.Logging.JournalPath,
	)
}

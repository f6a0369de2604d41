// Package config handles configuration loading, validation, and management for dictate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete dictate configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Audio configuration for microphone capture.
	Audio AudioConfig `toml:"audio" json:"audio" yaml:"audio"`

	// Transcription configuration for speech-to-text backends.
	Transcription TranscriptionConfig `toml:"transcription" json:"transcription" yaml:"transcription"`

	// Rewrite configuration for directive-based transcript rewriting.
	Rewrite RewriteConfig `toml:"rewrite" json:"rewrite" yaml:"rewrite"`

	// Typing configuration for text injection.
	Typing TypingConfig `toml:"typing" json:"typing" yaml:"typing"`

	// Notify configuration for desktop notifications.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`

	// Session configuration for single-instance coordination.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// AudioConfig holds microphone capture configuration.
type AudioConfig struct {
	// Command is the capture executable. Only "parec" behavior is
	// supported; the field exists so a PipeWire wrapper can be swapped in.
	Command string `toml:"command" json:"command" yaml:"command"`

	// Device is the PulseAudio source device. Empty uses the default source.
	Device string `toml:"device" json:"device" yaml:"device"`

	// SampleRate is the capture sample rate in Hz.
	SampleRate int `toml:"sample_rate" json:"sample_rate" yaml:"sample_rate"`

	// Channels is the number of capture channels.
	Channels int `toml:"channels" json:"channels" yaml:"channels"`

	// SampleFormat is the PCM sample format passed to the capture command.
	SampleFormat string `toml:"sample_format" json:"sample_format" yaml:"sample_format"`

	// LatencyMs is the requested capture latency in milliseconds.
	LatencyMs int `toml:"latency_ms" json:"latency_ms" yaml:"latency_ms"`

	// RecordingPath is where the captured WAV file is written.
	RecordingPath string `toml:"recording_path" json:"recording_path" yaml:"recording_path"`

	// StopGraceSec is how long to wait after each stop signal before
	// escalating to the next one.
	StopGraceSec int `toml:"stop_grace_sec" json:"stop_grace_sec" yaml:"stop_grace_sec"`
}

// TranscriptionConfig holds speech-to-text backend configuration.
type TranscriptionConfig struct {
	// Backend selects the transcription service: "deepgram" or "assemblyai".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// TimeoutSec is the timeout for a transcription request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// Deepgram configuration.
	Deepgram DeepgramConfig `toml:"deepgram" json:"deepgram" yaml:"deepgram"`

	// AssemblyAI configuration.
	AssemblyAI AssemblyAIConfig `toml:"assemblyai" json:"assemblyai" yaml:"assemblyai"`
}

// DeepgramConfig holds Deepgram-specific configuration.
type DeepgramConfig struct {
	// Model is the Deepgram model name.
	Model string `toml:"model" json:"model" yaml:"model"`

	// Language is the transcription language.
	Language string `toml:"language" json:"language" yaml:"language"`

	// APIKey is the Deepgram API key (use env var DEEPGRAM_API_KEY).
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`
}

// AssemblyAIConfig holds AssemblyAI-specific configuration.
type AssemblyAIConfig struct {
	// SpeechModel is the AssemblyAI speech model.
	SpeechModel string `toml:"speech_model" json:"speech_model" yaml:"speech_model"`

	// APIKey is the AssemblyAI API key (use env var ASSEMBLYAI_API_KEY).
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`
}

// RewriteConfig holds directive-based rewriting configuration.
// Rewriting only runs when an API key is present; without one the raw
// transcript is injected unchanged.
type RewriteConfig struct {
	// Model is the Gemini model name.
	Model string `toml:"model" json:"model" yaml:"model"`

	// Temperature is the generation temperature.
	Temperature float64 `toml:"temperature" json:"temperature" yaml:"temperature"`

	// MaxTokens is the maximum output tokens per rewrite.
	MaxTokens int `toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`

	// TimeoutSec is the timeout for a rewrite request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// APIKey is the Gemini API key (use env var GEMINI_API_KEY).
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`

	// DirectivesPath is the path to the directives YAML file.
	DirectivesPath string `toml:"directives_path" json:"directives_path" yaml:"directives_path"`

	// WatchDirectives reloads the directives file when it changes on disk.
	WatchDirectives bool `toml:"watch_directives" json:"watch_directives" yaml:"watch_directives"`

	// Indicator is the marker appended after rewritten text when a
	// directive requests one.
	Indicator string `toml:"indicator" json:"indicator" yaml:"indicator"`

	// Streaming types rewritten text as model fragments arrive instead
	// of waiting for the full response.
	Streaming bool `toml:"streaming" json:"streaming" yaml:"streaming"`
}

// TypingConfig holds text injection configuration.
type TypingConfig struct {
	// Method selects the injection strategy: "xdotool" or "paste".
	Method string `toml:"method" json:"method" yaml:"method"`

	// TimeoutSec is the timeout for a single injection command.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// NotifyConfig holds desktop notification configuration.
type NotifyConfig struct {
	// Enabled determines whether desktop notifications are shown.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// TimeoutMs is the notification expiry in milliseconds.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// SessionConfig holds single-instance coordination configuration.
// Both the begin and end processes must resolve the same paths, so
// these default to fixed locations under /tmp.
type SessionConfig struct {
	// PidFile is the path to the session lock file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// JournalEnabled records session lifecycle events to the journal.
	JournalEnabled bool `toml:"journal_enabled" json:"journal_enabled" yaml:"journal_enabled"`

	// JournalPath is the path to the session journal file.
	JournalPath string `toml:"journal_path" json:"journal_path" yaml:"journal_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DictateDir()

	return &Config{
		Version: Version,
		Audio: AudioConfig{
			Command:       "parec",
			Device:        "",
			SampleRate:    16000,
			Channels:      1,
			SampleFormat:  "s16ne",
			LatencyMs:     10,
			RecordingPath: filepath.Join(os.TempDir(), "dictate_recording.wav"),
			StopGraceSec:  5,
		},
		Transcription: TranscriptionConfig{
			Backend:    "deepgram",
			TimeoutSec: 60,
			Deepgram: DeepgramConfig{
				Model:    "nova-3",
				Language: "en-US",
			},
			AssemblyAI: AssemblyAIConfig{
				SpeechModel: "best",
			},
		},
		Rewrite: RewriteConfig{
			Model:           "gemini-2.0-flash",
			Temperature:     0.3,
			MaxTokens:       1000,
			TimeoutSec:      30,
			DirectivesPath:  filepath.Join(PlatformConfigDir(), "directives.yaml"),
			WatchDirectives: false,
			Indicator:       "✦",
			Streaming:       true,
		},
		Typing: TypingConfig{
			Method:     "xdotool",
			TimeoutSec: 30,
		},
		Notify: NotifyConfig{
			Enabled:   true,
			TimeoutMs: 2500,
		},
		Session: SessionConfig{
			PidFile: filepath.Join(os.TempDir(), "dictate.pid"),
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "both",
			FilePath:       filepath.Join(PlatformLogDir(), "dictate.log"),
			MaxSizeMB:      10,
			MaxBackups:     3,
			MaxAgeDays:     14,
			Compress:       true,
			JournalEnabled: true,
			JournalPath:    filepath.Join(dataDir, "journal.log"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Determine format from extension
	ext := filepath.Ext(path)
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		// Try TOML by default
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config (unknown format): %w", err)
		}
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Audio.RecordingPath),
		filepath.Dir(c.Session.PidFile),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Logging.JournalPath),
		filepath.Dir(c.Rewrite.DirectivesPath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DictateDir returns the base dictate data directory.
// Uses platform-specific paths or DICTATE_DATA_DIR environment override.
func DictateDir() string {
	if envDir := os.Getenv("DICTATE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Dictate settings are prefixed with DICTATE_; service credentials use the
// conventional provider variables so a .env file works unchanged.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Session overrides
	if v := os.Getenv("DICTATE_PID_FILE"); v != "" {
		c.Session.PidFile = v
	}

	// Audio overrides
	if v := os.Getenv("DICTATE_RECORDING_PATH"); v != "" {
		c.Audio.RecordingPath = v
	}
	if v := os.Getenv("DICTATE_AUDIO_DEVICE"); v != "" {
		c.Audio.Device = v
	}

	// Transcription overrides
	if v := os.Getenv("DICTATE_BACKEND"); v != "" {
		c.Transcription.Backend = v
	}
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Transcription.Deepgram.APIKey = v
	}
	if v := os.Getenv("ASSEMBLYAI_API_KEY"); v != "" {
		c.Transcription.AssemblyAI.APIKey = v
	}

	// Rewrite overrides
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Rewrite.APIKey = v
	}
	if v := os.Getenv("DICTATE_DIRECTIVES_PATH"); v != "" {
		c.Rewrite.DirectivesPath = v
	}

	// Typing overrides
	if v := os.Getenv("DICTATE_TYPING_METHOD"); v != "" {
		c.Typing.Method = v
	}

	// Logging overrides
	if v := os.Getenv("DICTATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DICTATE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:       c.Version,
		Audio:         c.Audio,
		Transcription: c.Transcription,
		Rewrite:       c.Rewrite,
		Typing:        c.Typing,
		Notify:        c.Notify,
		Session:       c.Session,
		Logging:       c.Logging,
	}
}

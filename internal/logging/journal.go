// Package logging provides structured logging with slog for dictate.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// JournalEventType represents the type of journal event.
type JournalEventType string

// Journal event types.
const (
	JournalEventSessionStart  JournalEventType = "session_start"
	JournalEventCaptureStop   JournalEventType = "capture_stop"
	JournalEventTranscription JournalEventType = "transcription"
	JournalEventRewrite       JournalEventType = "rewrite"
	JournalEventInjection     JournalEventType = "injection"
	JournalEventSessionEnd    JournalEventType = "session_end"
	JournalEventError         JournalEventType = "error"
)

// JournalEvent is one record in the dictation session journal.
type JournalEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	EventType JournalEventType `json:"event_type"`
	SessionID string           `json:"session_id,omitempty"`
	Action    string           `json:"action"`
	Result    string           `json:"result"` // "success" or "failure"
	Details   map[string]any   `json:"details,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// JournalConfig holds configuration for the session journal.
type JournalConfig struct {
	// FilePath is the path to the journal file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated journals should be compressed.
	Compress bool
}

// DefaultJournalConfig returns default journal configuration.
func DefaultJournalConfig() *JournalConfig {
	return &JournalConfig{
		FilePath:   defaultJournalPath(),
		MaxSize:    10, // 10 MB
		MaxAge:     90, // 90 days
		MaxBackups: 5,
		Compress:   true,
	}
}

// defaultJournalPath returns the platform-specific default journal path.
func defaultJournalPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "dictate", "journal.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "dictate", "logs", "journal.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "dictate", "journal.log")
	}
}

// Journal records dictation session lifecycle events as JSON lines.
// It is the durable answer to "what did my last dictation do": which
// backend ran, how long the transcript was, how the text went in.
//
// A nil *Journal is valid and records nothing, which is how a
// disabled journal is represented.
type Journal struct {
	config    *JournalConfig
	rotator   *FileRotator
	mu        sync.Mutex
	sessionID string
}

// NewJournal creates a new Journal.
func NewJournal(cfg *JournalConfig) (*Journal, error) {
	if cfg == nil {
		cfg = DefaultJournalConfig()
	}

	rotatorCfg := &Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}

	rotator, err := NewFileRotator(rotatorCfg)
	if err != nil {
		return nil, fmt.Errorf("create journal rotator: %w", err)
	}

	return &Journal{
		config:  cfg,
		rotator: rotator,
	}, nil
}

// SetSessionID sets the current session ID for journal events.
func (j *Journal) SetSessionID(sessionID string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessionID = sessionID
}

// Log writes a journal event.
func (j *Journal) Log(event JournalEvent) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = j.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}

	data = append(data, '\n')
	if _, err := j.rotator.Write(data); err != nil {
		return fmt.Errorf("write journal event: %w", err)
	}

	return nil
}

// LogSessionStart logs a session start event.
func (j *Journal) LogSessionStart(sessionID string, details map[string]any) error {
	j.SetSessionID(sessionID)
	return j.Log(JournalEvent{
		EventType: JournalEventSessionStart,
		Action:    "session_started",
		Result:    "success",
		SessionID: sessionID,
		Details:   details,
	})
}

// LogCaptureStop logs the end of audio capture.
func (j *Journal) LogCaptureStop(audioBytes int64, duration time.Duration) error {
	return j.Log(JournalEvent{
		EventType: JournalEventCaptureStop,
		Action:    "capture_stopped",
		Result:    "success",
		Details: map[string]any{
			"audio_bytes": audioBytes,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// LogTranscription logs a completed transcription.
func (j *Journal) LogTranscription(backend string, transcriptLen int) error {
	return j.Log(JournalEvent{
		EventType: JournalEventTranscription,
		Action:    "transcribed",
		Result:    "success",
		Details: map[string]any{
			"backend":        backend,
			"transcript_len": transcriptLen,
		},
	})
}

// LogRewrite logs a completed directive rewrite.
func (j *Journal) LogRewrite(directive string, streamed bool) error {
	return j.Log(JournalEvent{
		EventType: JournalEventRewrite,
		Action:    "rewritten",
		Result:    "success",
		Details: map[string]any{
			"directive": directive,
			"streamed":  streamed,
		},
	})
}

// LogInjection logs text injection into the focused window.
func (j *Journal) LogInjection(method string, chars int) error {
	return j.Log(JournalEvent{
		EventType: JournalEventInjection,
		Action:    "injected",
		Result:    "success",
		Details: map[string]any{
			"method": method,
			"chars":  chars,
		},
	})
}

// LogSessionEnd logs a session end event and clears the session ID.
func (j *Journal) LogSessionEnd(details map[string]any) error {
	event := JournalEvent{
		EventType: JournalEventSessionEnd,
		Action:    "session_ended",
		Result:    "success",
		Details:   details,
	}
	err := j.Log(event)
	j.SetSessionID("")
	return err
}

// LogError logs a failed operation.
func (j *Journal) LogError(operation string, opErr error) error {
	return j.Log(JournalEvent{
		EventType: JournalEventError,
		Action:    operation,
		Result:    "failure",
		Error:     opErr.Error(),
	})
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j == nil || j.rotator == nil {
		return nil
	}
	return j.rotator.Close()
}

// Sync flushes any buffered journal events.
func (j *Journal) Sync() error {
	if j == nil || j.rotator == nil {
		return nil
	}
	return j.rotator.Sync()
}

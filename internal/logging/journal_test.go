package logging

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJournal(t *testing.T) {
	tmpDir := t.TempDir()
	journalPath := filepath.Join(tmpDir, "journal.log")

	cfg := &JournalConfig{
		FilePath:   journalPath,
		MaxSize:    10,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   false,
	}

	journal, err := NewJournal(cfg)
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	defer journal.Close()

	if err := journal.LogSessionStart("session-123", map[string]any{
		"backend": "deepgram",
	}); err != nil {
		t.Errorf("LogSessionStart failed: %v", err)
	}

	if err := journal.LogCaptureStop(64044, 2*1000*1000*1000); err != nil {
		t.Errorf("LogCaptureStop failed: %v", err)
	}

	if err := journal.LogTranscription("deepgram", 42); err != nil {
		t.Errorf("LogTranscription failed: %v", err)
	}

	if err := journal.LogInjection("xdotool", 42); err != nil {
		t.Errorf("LogInjection failed: %v", err)
	}

	if err := journal.LogError("transcribe", errors.New("boom")); err != nil {
		t.Errorf("LogError failed: %v", err)
	}

	if err := journal.LogSessionEnd(nil); err != nil {
		t.Errorf("LogSessionEnd failed: %v", err)
	}

	journal.Sync()

	data, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatalf("failed to read journal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("journal is empty")
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Errorf("expected 6 journal lines, got %d", len(lines))
	}
	for i, line := range lines {
		var event JournalEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i+1, err)
		}
	}

	// Session ID carries through until the session ends.
	var mid JournalEvent
	json.Unmarshal([]byte(lines[2]), &mid)
	if mid.SessionID != "session-123" {
		t.Errorf("expected session ID on mid-session event, got %q", mid.SessionID)
	}
}

func TestNilJournalRecordsNothing(t *testing.T) {
	var journal *Journal

	journal.SetSessionID("session-123")
	if err := journal.Log(JournalEvent{Action: "noop"}); err != nil {
		t.Errorf("nil journal Log returned %v", err)
	}
	if err := journal.LogSessionEnd(nil); err != nil {
		t.Errorf("nil journal LogSessionEnd returned %v", err)
	}
	if err := journal.Sync(); err != nil {
		t.Errorf("nil journal Sync returned %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Errorf("nil journal Close returned %v", err)
	}
}

package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictate/internal/logging"
)

// =============================================================================
// Helper functions
// =============================================================================

func testLogger() *logging.Logger {
	return logging.Default().WithComponent("transcribe-test")
}

// writeAudioFile drops a small fake recording on disk.
func writeAudioFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.wav")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

// countingBackend records how often it was invoked.
type countingBackend struct {
	calls      atomic.Int64
	transcript string
	err        error
}

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	b.calls.Add(1)
	return b.transcript, b.err
}

// =============================================================================
// Tests for backend selection
// =============================================================================

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "whisper"}, nil)
	require.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "whisper")
}

func TestNewRequiresAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		backend string
	}{
		{"deepgram without key", "deepgram"},
		{"assemblyai without key", "assemblyai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Backend: tt.backend}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "API key")
		})
	}
}

func TestNewSelectsBackend(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		backend string
	}{
		{
			name:    "deepgram",
			config:  Config{Backend: "deepgram", Deepgram: DeepgramConfig{APIKey: "k"}},
			backend: "deepgram",
		},
		{
			name:    "assemblyai mixed case",
			config:  Config{Backend: "AssemblyAI", AssemblyAI: AssemblyAIConfig{APIKey: "k"}},
			backend: "assemblyai",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := New(tt.config, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, svc.Backend())
		})
	}
}

// =============================================================================
// Tests for Service validation
// =============================================================================

func TestTranscribeFileMissingAudio(t *testing.T) {
	backend := &countingBackend{}
	svc := NewService(backend, nil)

	_, err := svc.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	require.ErrorIs(t, err, ErrAudioMissing)
	assert.Zero(t, backend.calls.Load(), "backend must not be called for a missing file")
}

func TestTranscribeFileEmptyAudio(t *testing.T) {
	backend := &countingBackend{}
	svc := NewService(backend, nil)

	path := writeAudioFile(t, nil)
	_, err := svc.TranscribeFile(context.Background(), path)
	require.ErrorIs(t, err, ErrAudioEmpty)
	assert.Zero(t, backend.calls.Load(), "backend must not be called for an empty file")
}

func TestTranscribeFileTrimsWhitespace(t *testing.T) {
	backend := &countingBackend{transcript: "  hello world \n"}
	svc := NewService(backend, nil)

	path := writeAudioFile(t, []byte("pcm"))
	got, err := svc.TranscribeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, int64(1), backend.calls.Load())
}

func TestTranscribeFileEmptyTranscript(t *testing.T) {
	backend := &countingBackend{transcript: ""}
	svc := NewService(backend, nil)

	path := writeAudioFile(t, []byte("pcm"))
	got, err := svc.TranscribeFile(context.Background(), path)
	require.NoError(t, err, "silence is not an error")
	assert.Empty(t, got)
}

// =============================================================================
// Tests for the Deepgram backend
// =============================================================================

func TestDeepgramTranscribe(t *testing.T) {
	audio := []byte("RIFF-fake-wav-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))

		q := r.URL.Query()
		assert.Equal(t, "nova-3", q.Get("model"))
		assert.Equal(t, "en-US", q.Get("language"))
		assert.Equal(t, "true", q.Get("punctuate"))
		assert.Equal(t, "true", q.Get("smart_format"))
		assert.Equal(t, "true", q.Get("mip_opt_out"))

		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"channels": []any{
					map[string]any{
						"alternatives": []any{
							map[string]any{"transcript": "testing one two three.", "confidence": 0.98},
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	backend, err := newDeepgram(DeepgramConfig{APIKey: "test-key", BaseURL: server.URL}, testLogger())
	require.NoError(t, err)

	got, err := backend.Transcribe(context.Background(), writeAudioFile(t, audio))
	require.NoError(t, err)
	assert.Equal(t, "testing one two three.", got)
}

func TestDeepgramAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_msg":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	backend, err := newDeepgram(DeepgramConfig{APIKey: "bad-key", BaseURL: server.URL}, testLogger())
	require.NoError(t, err)

	_, err = backend.Transcribe(context.Background(), writeAudioFile(t, []byte("pcm")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDeepgramNoChannels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": map[string]any{"channels": []any{}}})
	}))
	defer server.Close()

	backend, err := newDeepgram(DeepgramConfig{APIKey: "test-key", BaseURL: server.URL}, testLogger())
	require.NoError(t, err)

	got, err := backend.Transcribe(context.Background(), writeAudioFile(t, []byte("pcm")))
	require.NoError(t, err, "an answer without channels is an empty transcript, not a failure")
	assert.Empty(t, got)
}

// =============================================================================
// Tests for the AssemblyAI backend
// =============================================================================

// assemblyAIServer fakes the upload / create / poll flow.
func assemblyAIServer(t *testing.T, pollsUntilDone int, finalStatus, text, jobErr string) *httptest.Server {
	t.Helper()
	var polls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/upload/abc"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://cdn.example/upload/abc", req["audio_url"])
		assert.Equal(t, "best", req["speech_model"])
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"id": "job-1", "status": "processing"}
		if int(polls.Add(1)) >= pollsUntilDone {
			resp["status"] = finalStatus
			resp["text"] = text
			resp["error"] = jobErr
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func TestAssemblyAITranscribe(t *testing.T) {
	server := assemblyAIServer(t, 2, "completed", "dictated text arrives.", "")
	defer server.Close()

	backend, err := newAssemblyAI(AssemblyAIConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	got, err := backend.Transcribe(context.Background(), writeAudioFile(t, []byte("pcm")))
	require.NoError(t, err)
	assert.Equal(t, "dictated text arrives.", got)
}

func TestAssemblyAIJobError(t *testing.T) {
	server := assemblyAIServer(t, 1, "error", "", "audio too short")
	defer server.Close()

	backend, err := newAssemblyAI(AssemblyAIConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	_, err = backend.Transcribe(context.Background(), writeAudioFile(t, []byte("pcm")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio too short")
}

func TestAssemblyAIPollTimeout(t *testing.T) {
	// The job never settles; the context has to cut the wait short.
	server := assemblyAIServer(t, 1<<30, "completed", "", "")
	defer server.Close()

	backend, err := newAssemblyAI(AssemblyAIConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = backend.Transcribe(ctx, writeAudioFile(t, []byte("pcm")))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures everything the rewriter sends, in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Push(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "push:"+fragment)
	return nil
}

func (s *recordingSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "flush")
	return nil
}

func (s *recordingSink) sequence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func newTestRewriter(t *testing.T, baseURL, apiKey, directivesYAML string) *Rewriter {
	t.Helper()

	path := filepath.Join(t.TempDir(), "directives.yaml")
	if directivesYAML != "" {
		writeDirectivesFile(t, path, directivesYAML)
	}

	r, err := New(Config{
		DirectivesPath: path,
		Gemini: GeminiConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
		},
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func polishDirective() *Directive {
	return &Directive{
		Name:         "polish",
		Template:     "Fix: {transcript}",
		AddIndicator: true,
	}
}

// ============================================================
// Construction and directive selection
// ============================================================

func TestNewFailsOnInvalidDirectives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	writeDirectivesFile(t, path, "prompts: [unclosed")

	_, err := New(Config{DirectivesPath: path}, testLogger())
	require.Error(t, err)
}

func TestSelectDirectiveUsesStore(t *testing.T) {
	r := newTestRewriter(t, "", "key", sampleDirectives)

	directive := r.SelectDirective("Google-chrome")
	require.NotNil(t, directive)
	assert.Equal(t, "polish", directive.Name)

	assert.Nil(t, r.SelectDirective(""))
}

func TestEnabledRequiresCredential(t *testing.T) {
	assert.True(t, newTestRewriter(t, "", "key", "").Enabled())
	assert.False(t, newTestRewriter(t, "", "", "").Enabled())
}

// ============================================================
// Blocking rewrite
// ============================================================

func TestRewriteReturnsModelOutput(t *testing.T) {
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
			return
		}
		bodies <- body

		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  Polished text. \n"}]}}]}`)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	out := r.Rewrite(context.Background(), "raw words", polishDirective(), "Compose Mail")
	assert.Equal(t, "Polished text.", out)

	var req geminiRequest
	require.NoError(t, json.Unmarshal(<-bodies, &req))
	require.Len(t, req.Contents, 1)
	require.Len(t, req.Contents[0].Parts, 1)
	assert.Equal(t, "Fix: raw words", req.Contents[0].Parts[0].Text)
	assert.InDelta(t, 0.3, req.GenerationConfig.Temperature, 1e-9)
	assert.Equal(t, 1000, req.GenerationConfig.MaxOutputTokens)
}

func TestRewriteFallsBackOnAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	out := r.Rewrite(context.Background(), "raw words", polishDirective(), "")
	assert.Equal(t, "raw words", out)
}

func TestRewriteFallsBackOnEmptyOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	out := r.Rewrite(context.Background(), "raw words", polishDirective(), "")
	assert.Equal(t, "raw words", out)
}

func TestRewriteSkipsModelWhenDisabled(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "", "")
	out := r.Rewrite(context.Background(), "raw words", polishDirective(), "")
	assert.Equal(t, "raw words", out)
	assert.Zero(t, calls.Load())
}

func TestRewriteSkipsModelWithoutDirective(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	out := r.Rewrite(context.Background(), "raw words", nil, "")
	assert.Equal(t, "raw words", out)
	assert.Zero(t, calls.Load())
}

// ============================================================
// Streaming rewrite
// ============================================================

func sseHandler(t *testing.T, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gemini-2.0-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range chunks {
			payload, err := json.Marshal(geminiResponse{
				Candidates: []geminiCandidate{{
					Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}},
				}},
			})
			if err != nil {
				t.Error(err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
	}
}

func TestRewriteStreamDeliversFragmentsThenIndicator(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, "Hello", " world", "!"))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	sink := &recordingSink{}
	r.RewriteStream(context.Background(), "raw words", polishDirective(), "", sink)

	assert.Equal(t, []string{
		"push:Hello",
		"push: world",
		"push:!",
		"flush",
		"push: ✦",
	}, sink.sequence())
}

func TestRewriteStreamOmitsIndicatorWhenNotRequested(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, "Hello"))
	defer server.Close()

	directive := polishDirective()
	directive.AddIndicator = false

	r := newTestRewriter(t, server.URL, "test-key", "")
	sink := &recordingSink{}
	r.RewriteStream(context.Background(), "raw words", directive, "", sink)

	assert.Equal(t, []string{"push:Hello", "flush"}, sink.sequence())
}

func TestRewriteStreamFallsBackWhenNothingDelivered(t *testing.T) {
	server := httptest.NewServer(sseHandler(t))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	sink := &recordingSink{}
	r.RewriteStream(context.Background(), "raw words", polishDirective(), "", sink)

	assert.Equal(t, []string{"push:raw words", "flush"}, sink.sequence(),
		"original transcript, and no indicator for fallback delivery")
}

func TestRewriteStreamFallsBackOnAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	sink := &recordingSink{}
	r.RewriteStream(context.Background(), "raw words", polishDirective(), "", sink)

	assert.Equal(t, []string{"push:raw words", "flush"}, sink.sequence())
}

func TestRewriteStreamFallsBackWhenServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	r := newTestRewriter(t, url, "test-key", "")
	sink := &recordingSink{}
	r.RewriteStream(context.Background(), "raw words", polishDirective(), "", sink)

	assert.Equal(t, []string{"push:raw words", "flush"}, sink.sequence())
}

func TestRewriteStreamPassesThroughWhenDisabled(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "", "")
	sink := &recordingSink{}
	r.RewriteStream(context.Background(), "raw words", polishDirective(), "", sink)

	assert.Equal(t, []string{"push:raw words", "flush"}, sink.sequence())
	assert.Zero(t, calls.Load())
}

func TestRewriteStreamKeepsPartialOutputOnMidStreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello\"}]}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	r := newTestRewriter(t, server.URL, "test-key", "")
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	sink := &recordingSink{}
	r.RewriteStream(ctx, "raw words", polishDirective(), "", sink)

	assert.Equal(t, []string{"push:Hello", "flush"}, sink.sequence(),
		"partial output stands, original is not repeated")
}

func TestIndicatorResolution(t *testing.T) {
	fileGlyph := `prompts:
  clean:
    template: "Fix: {transcript}"
applications:
  default:
    prompt: clean
config:
  indicator: "❖"
`

	r := newTestRewriter(t, "", "key", fileGlyph)
	assert.Equal(t, "❖", r.indicator(), "directives file wins")

	path := filepath.Join(t.TempDir(), "directives.yaml")
	r2, err := New(Config{DirectivesPath: path, Indicator: "➤"}, testLogger())
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, "➤", r2.indicator(), "configuration fallback")

	r3 := newTestRewriter(t, "", "key", "")
	assert.Equal(t, "✦", r3.indicator(), "built-in default")
}

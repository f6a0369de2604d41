package rewrite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictate/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.Default().WithComponent("rewrite-test")
}

func writeDirectivesFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStoreLoadSwapsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	writeDirectivesFile(t, path, sampleDirectives)

	store := NewStore(path, testLogger())
	defer store.Close()

	assert.Nil(t, store.Directives().Select("Google-chrome"), "nothing matches before Load")

	_, err := store.Load()
	require.NoError(t, err)

	directive := store.Directives().Select("Google-chrome")
	require.NotNil(t, directive)
	assert.Equal(t, "polish", directive.Name)
}

func TestStoreLoadKeepsCurrentOnInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	writeDirectivesFile(t, path, sampleDirectives)

	store := NewStore(path, testLogger())
	defer store.Close()
	_, err := store.Load()
	require.NoError(t, err)

	writeDirectivesFile(t, path, "prompts: [unclosed")
	_, err = store.Load()
	require.Error(t, err)

	directive := store.Directives().Select("Google-chrome")
	require.NotNil(t, directive, "previous good set stays active")
	assert.Equal(t, "polish", directive.Name)
}

func TestStoreWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	writeDirectivesFile(t, path, sampleDirectives)

	store := NewStore(path, testLogger())
	defer store.Close()
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Watch())

	updated := strings.Replace(sampleDirectives, "prompt: polish", "prompt: clean", 1)
	writeDirectivesFile(t, path, updated)

	require.Eventually(t, func() bool {
		directive := store.Directives().Select("Google-chrome")
		return directive != nil && directive.Name == "clean"
	}, 3*time.Second, 20*time.Millisecond, "watcher should pick up the edit")
}

func TestStoreWatchKeepsPreviousSetOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	writeDirectivesFile(t, path, sampleDirectives)

	store := NewStore(path, testLogger())
	defer store.Close()
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Watch())

	writeDirectivesFile(t, path, "prompts: [unclosed")

	select {
	case err := <-store.Errors():
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload error")
	}

	directive := store.Directives().Select("Google-chrome")
	require.NotNil(t, directive)
	assert.Equal(t, "polish", directive.Name)
}

func TestStoreWatchIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directives.yaml")
	writeDirectivesFile(t, path, sampleDirectives)

	store := NewStore(path, testLogger())
	defer store.Close()
	_, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.Watch())
	require.NoError(t, store.Watch(), "second Watch is a no-op")
}

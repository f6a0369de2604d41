package rewrite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dictate/internal/logging"
)

// debounceWindow collapses the editor write bursts that save a file
// into a single reload.
const debounceWindow = 100 * time.Millisecond

// Store owns the active directive set. Reload is an explicit
// operation; Watch is an optional supplement that refreshes the set
// when the file changes on disk. Swaps are atomic and a document that
// fails validation keeps the previous good set.
type Store struct {
	path   string
	logger *logging.Logger

	mu      sync.RWMutex
	current *Directives

	watcher   *fsnotify.Watcher
	ctx       context.Context
	cancel    context.CancelFunc
	errChan   chan error
	debounce  *time.Timer
	watchOnce sync.Once
}

// NewStore creates a store for the directives document at path. The
// document is not read until Load is called.
func NewStore(path string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		path:    path,
		logger:  logger.WithComponent("directives"),
		current: defaultDirectives(),
		ctx:     ctx,
		cancel:  cancel,
		errChan: make(chan error, 1),
	}
}

// Load reads the document from disk and swaps it in. A missing file is
// not an error: rewriting is simply disabled until one appears.
func (s *Store) Load() (*Directives, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.logger.Warn("directives file not found, rewriting disabled", "path", s.path)
	}

	d, err := Load(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = d
	s.mu.Unlock()

	s.logger.Info("directives loaded",
		"path", s.path,
		"prompts", len(d.Prompts),
		"application_groups", len(d.Applications))
	return d, nil
}

// Directives returns the active set.
func (s *Store) Directives() *Directives {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch starts refreshing the store when the directives file changes.
// The parent directory is watched rather than the file itself so that
// editors which replace the file on save keep triggering events.
func (s *Store) Watch() error {
	var startErr error
	s.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("rewrite: create watcher: %w", err)
			return
		}
		dir := filepath.Dir(s.path)
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			startErr = fmt.Errorf("rewrite: watch %s: %w", dir, err)
			return
		}

		s.watcher = watcher
		go s.watchLoop()
		s.logger.Info("watching directives file", "path", s.path)
	})
	return startErr
}

// Errors exposes reload failures to callers that want them; the
// channel is never required reading because failures also keep the
// previous good set and are logged.
func (s *Store) Errors() <-chan error {
	return s.errChan
}

// Close stops the watcher, if any.
func (s *Store) Close() error {
	s.cancel()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	defer logging.DefaultCrashHandler().RecoverGoroutine()

	base := filepath.Base(s.path)
	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.scheduleReload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("directives watcher error", "error", err)
			s.reportError(err)
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (s *Store) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(debounceWindow, s.reload)
}

// reload re-reads the document and swaps it in when valid. Invalid
// documents are reported and the previous good set stays active.
func (s *Store) reload() {
	d, err := Load(s.path)
	if err != nil {
		s.logger.Error("directives reload failed, keeping previous set", "error", err)
		s.reportError(err)
		return
	}

	s.mu.Lock()
	s.current = d
	s.mu.Unlock()

	s.logger.Info("directives reloaded",
		"prompts", len(d.Prompts),
		"application_groups", len(d.Applications))
}

func (s *Store) reportError(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

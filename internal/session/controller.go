// Package session runs one dictation session from microphone to
// focused window.
//
// A session is two cooperating processes. The begin process acquires
// the pid lock, starts audio capture and suspends until it receives
// SIGTERM or SIGINT. The end process reads the lock and sends that
// signal. The begin process then walks the delivery pipeline: stop
// capture, transcribe, pick a rewrite directive for the focused
// window, and type the result. Rewriting and window detection degrade
// to typing the raw transcript; capture, transcription and typing
// failures end the session with an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"dictate/internal/capture"
	"dictate/internal/config"
	"dictate/internal/focus"
	"dictate/internal/lockfile"
	"dictate/internal/logging"
	"dictate/internal/notify"
	"dictate/internal/rewrite"
	"dictate/internal/transcribe"
	"dictate/internal/typer"
)

const (
	// defaultStageTimeout bounds a pipeline stage whose configured
	// timeout is missing or nonsensical.
	defaultStageTimeout = 30 * time.Second

	// focusTimeout bounds the active window lookup. The transcript is
	// already waiting; a hung lookup must not hold it hostage.
	focusTimeout = 5 * time.Second
)

// AudioRecorder captures microphone audio between Start and Stop.
type AudioRecorder interface {
	Start(ctx context.Context) error
	Stop() (capture.Result, error)
}

// Transcriber turns a recorded WAV file into text.
type Transcriber interface {
	Backend() string
	TranscribeFile(ctx context.Context, audioPath string) (string, error)
}

// TranscriptRewriter selects a directive for the focused application
// and runs the transcript through the language model. Implementations
// absorb model failures and fall back to the raw transcript.
type TranscriptRewriter interface {
	SelectDirective(appClass string) *rewrite.Directive
	Rewrite(ctx context.Context, transcript string, directive *rewrite.Directive, windowTitle string) string
	RewriteStream(ctx context.Context, transcript string, directive *rewrite.Directive, windowTitle string, sink rewrite.Sink)
	Close() error
}

// TextInjector types text into the focused window, either all at once
// or as streamed fragments.
type TextInjector interface {
	Push(fragment string) error
	Flush() error
	TypeAll(text string) error
}

// StatusNotifier surfaces session progress to the desktop.
type StatusNotifier interface {
	RecordingStarted()
	Processing()
	SessionComplete(chars int)
	SessionFailed(reason string)
}

// Controller owns the begin process lifecycle.
type Controller struct {
	config *config.Config
	logger *logging.Logger

	journal     *logging.Journal
	recorder    AudioRecorder
	transcriber Transcriber
	rewriter    TranscriptRewriter
	injector    TextInjector
	focus       focus.Detector
	notifier    StatusNotifier

	id   string
	lock *lockfile.Lock

	// captureCtx outlives the signal context so the stop signal does
	// not hard-kill the capture process before Stop can drain it.
	captureCtx    context.Context
	captureCancel context.CancelFunc

	closeOnce sync.Once
}

// New assembles a controller from configuration. Construction fails
// when a required subsystem cannot be built, such as an unknown
// transcription backend or an invalid directives file.
func New(cfg *config.Config, logger *logging.Logger) (*Controller, error) {
	if logger == nil {
		logger = logging.Default()
	}
	id := uuid.NewString()
	logger = logger.WithComponent("session").WithSession(id)
	logging.DefaultCrashHandler().SetSessionID(id)

	// A nil journal records nothing; that is the disabled state.
	var journal *logging.Journal
	if cfg.Logging.JournalEnabled {
		journalCfg := logging.DefaultJournalConfig()
		if cfg.Logging.JournalPath != "" {
			journalCfg.FilePath = cfg.Logging.JournalPath
		}
		var err error
		journal, err = logging.NewJournal(journalCfg)
		if err != nil {
			return nil, fmt.Errorf("session: open journal: %w", err)
		}
	}

	transcriber, err := transcribe.New(transcribe.Config{
		Backend: cfg.Transcription.Backend,
		Timeout: secondsOr(cfg.Transcription.TimeoutSec, defaultStageTimeout),
		Deepgram: transcribe.DeepgramConfig{
			APIKey:   cfg.Transcription.Deepgram.APIKey,
			Model:    cfg.Transcription.Deepgram.Model,
			Language: cfg.Transcription.Deepgram.Language,
		},
		AssemblyAI: transcribe.AssemblyAIConfig{
			APIKey:      cfg.Transcription.AssemblyAI.APIKey,
			SpeechModel: cfg.Transcription.AssemblyAI.SpeechModel,
		},
	}, logger)
	if err != nil {
		journal.Close()
		return nil, err
	}

	rewriter, err := rewrite.New(rewrite.Config{
		DirectivesPath:  cfg.Rewrite.DirectivesPath,
		WatchDirectives: cfg.Rewrite.WatchDirectives,
		Indicator:       cfg.Rewrite.Indicator,
		Gemini: rewrite.GeminiConfig{
			APIKey:      cfg.Rewrite.APIKey,
			Model:       cfg.Rewrite.Model,
			Temperature: cfg.Rewrite.Temperature,
			MaxTokens:   cfg.Rewrite.MaxTokens,
			Timeout:     secondsOr(cfg.Rewrite.TimeoutSec, defaultStageTimeout),
		},
	}, logger)
	if err != nil {
		journal.Close()
		return nil, err
	}

	recorder := capture.NewRecorder(capture.Config{
		Command:      cfg.Audio.Command,
		Device:       cfg.Audio.Device,
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		SampleFormat: cfg.Audio.SampleFormat,
		LatencyMs:    cfg.Audio.LatencyMs,
		OutputPath:   cfg.Audio.RecordingPath,
		StopGrace:    secondsOr(cfg.Audio.StopGraceSec, 2*time.Second),
	}, logger)

	injector := typer.New(typer.Config{
		Method:  cfg.Typing.Method,
		Timeout: secondsOr(cfg.Typing.TimeoutSec, defaultStageTimeout),
	}, logger)

	notifier := notify.New(notify.Config{
		Enabled: cfg.Notify.Enabled,
		Timeout: time.Duration(cfg.Notify.TimeoutMs) * time.Millisecond,
	}, logger)

	captureCtx, captureCancel := context.WithCancel(context.Background())

	return &Controller{
		config:        cfg,
		logger:        logger,
		journal:       journal,
		recorder:      recorder,
		transcriber:   transcriber,
		rewriter:      rewriter,
		injector:      injector,
		focus:         focus.New(logger),
		notifier:      notifier,
		id:            id,
		captureCtx:    captureCtx,
		captureCancel: captureCancel,
	}, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.id
}

// Run executes the session. It blocks from the moment recording starts
// until ctx is cancelled, which is how the end process (or Ctrl-C)
// tells this one to stop recording and deliver the text.
func (c *Controller) Run(ctx context.Context) error {
	lock, err := lockfile.Acquire(c.config.Session.PidFile)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return err
		}
		return fmt.Errorf("session: acquire lock: %w", err)
	}
	c.lock = lock
	defer c.releaseLock()

	if stale := lock.ReclaimedFrom(); stale != 0 {
		c.logger.Warn("reclaimed lock from dead session", "stale_pid", stale)
	}

	c.journal.SetSessionID(c.id)
	c.journalEvent(c.journal.LogSessionStart(c.id, map[string]any{
		"pid":       lock.Pid(),
		"backend":   c.transcriber.Backend(),
		"recording": c.config.Audio.RecordingPath,
	}))

	if err := c.recorder.Start(c.captureCtx); err != nil {
		c.journalEvent(c.journal.LogError("capture", err))
		c.notifier.SessionFailed("could not start recording")
		return err
	}
	c.notifier.RecordingStarted()
	c.logger.Info("recording until signalled",
		"pid", lock.Pid(),
		"pid_file", lock.Path())

	<-ctx.Done()
	c.logger.Info("stop signal received")
	return c.finish()
}

// finish drives the delivery pipeline after the stop signal. The
// signal context is already cancelled by now, so every stage runs on
// its own fresh deadline.
func (c *Controller) finish() error {
	c.notifier.Processing()

	result, err := c.recorder.Stop()
	if err != nil {
		c.journalEvent(c.journal.LogError("capture", err))
		c.notifier.SessionFailed("recording failed")
		return fmt.Errorf("session: stop capture: %w", err)
	}
	c.journalEvent(c.journal.LogCaptureStop(int64(result.Bytes), result.Duration))

	if result.Path == "" {
		c.logger.Info("nothing captured")
		c.finishEmpty("no audio")
		return nil
	}

	transcript, err := c.transcribe(result.Path)
	if err != nil {
		c.journalEvent(c.journal.LogError("transcription", err))
		c.notifier.SessionFailed("transcription failed")
		return err
	}
	if transcript == "" {
		c.logger.Info("transcript empty, nothing to type")
		c.finishEmpty("no speech")
		return nil
	}

	chars, err := c.deliver(transcript)
	if err != nil {
		c.journalEvent(c.journal.LogError("injection", err))
		c.notifier.SessionFailed("typing failed")
		return err
	}

	c.journalEvent(c.journal.LogSessionEnd(map[string]any{"chars": chars}))
	c.notifier.SessionComplete(chars)
	c.logger.Info("session complete", "chars", chars)
	return nil
}

func (c *Controller) finishEmpty(reason string) {
	c.journalEvent(c.journal.LogSessionEnd(map[string]any{
		"chars":  0,
		"reason": reason,
	}))
	c.notifier.SessionComplete(0)
}

func (c *Controller) transcribe(audioPath string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(),
		secondsOr(c.config.Transcription.TimeoutSec, defaultStageTimeout))
	defer cancel()

	transcript, err := c.transcriber.TranscribeFile(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("session: transcribe: %w", err)
	}
	c.journalEvent(c.journal.LogTranscription(c.transcriber.Backend(), len(transcript)))
	return transcript, nil
}

// deliver rewrites the transcript for the focused window and types the
// result. It returns the number of characters typed.
func (c *Controller) deliver(transcript string) (int, error) {
	directive, title := c.selectDirective()
	if directive != nil {
		c.journalEvent(c.journal.LogRewrite(directive.Name, c.config.Rewrite.Streaming))
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		secondsOr(c.config.Rewrite.TimeoutSec, defaultStageTimeout))
	defer cancel()

	method := c.config.Typing.Method
	if method == "" {
		method = "xdotool"
	}

	if c.config.Rewrite.Streaming {
		sink := &countingSink{injector: c.injector}
		c.rewriter.RewriteStream(ctx, transcript, directive, title, sink)
		if sink.chars == 0 && sink.firstErr != nil {
			return 0, fmt.Errorf("session: type text: %w", sink.firstErr)
		}
		c.journalEvent(c.journal.LogInjection(method, sink.chars))
		return sink.chars, nil
	}

	text := c.rewriter.Rewrite(ctx, transcript, directive, title)
	if err := c.injector.TypeAll(text); err != nil {
		return 0, fmt.Errorf("session: type text: %w", err)
	}
	chars := utf8.RuneCountInString(text)
	c.journalEvent(c.journal.LogInjection(method, chars))
	return chars, nil
}

// selectDirective finds the focused window and maps its class to a
// rewrite directive. Every failure here means "type the transcript
// verbatim", never a failed session.
func (c *Controller) selectDirective() (*rewrite.Directive, string) {
	if ok, reason := c.focus.Available(); !ok {
		c.logger.Debug("window detection unavailable", "reason", reason)
		return nil, ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), focusTimeout)
	defer cancel()

	info, err := c.focus.ActiveWindow(ctx)
	if err != nil {
		c.logger.Warn("active window lookup failed, typing transcript verbatim", "error", err)
		return nil, ""
	}
	c.logger.Info("focused window",
		"class", info.Class,
		"title", info.Title,
		"pid", info.PID)
	return c.rewriter.SelectDirective(info.Class), info.Title
}

func (c *Controller) releaseLock() {
	if c.lock == nil {
		return
	}
	if err := c.lock.Release(); err != nil {
		c.logger.Warn("lock release failed", "error", err)
	}
}

// Close stops the capture process if one is still running and releases
// the journal and directive watcher. Safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.captureCancel()
		if c.rewriter != nil {
			err = c.rewriter.Close()
		}
		if c.journal != nil {
			if jerr := c.journal.Close(); err == nil {
				err = jerr
			}
		}
	})
	return err
}

// journalEvent logs a failed journal write. The journal is a record of
// the session, not a participant in it, so writes never abort one.
func (c *Controller) journalEvent(err error) {
	if err != nil {
		c.logger.Debug("journal write failed", "error", err)
	}
}

func secondsOr(sec int, fallback time.Duration) time.Duration {
	if sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}

// countingSink counts the characters pushed through to the injector so
// the completion notice can report how much was typed.
type countingSink struct {
	injector TextInjector
	chars    int
	firstErr error
}

func (s *countingSink) Push(fragment string) error {
	err := s.injector.Push(fragment)
	if err == nil {
		s.chars += utf8.RuneCountInString(fragment)
	} else if s.firstErr == nil {
		s.firstErr = err
	}
	return err
}

func (s *countingSink) Flush() error {
	return s.injector.Flush()
}

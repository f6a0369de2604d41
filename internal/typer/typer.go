// Package typer delivers text to the focused window as synthetic
// input events.
//
// The Injector implements the sink contract used by streamed rewrites.
// Trailing newlines in a fragment are buffered rather than typed: only
// the arrival of a later non-empty fragment proves they sit between
// content, so a stream that ends on a newline never leaves a stray
// blank line behind the dictated text.
package typer

import (
	"strings"
	"time"

	"dictate/internal/logging"
)

// Emitter produces the actual input events. Implementations absorb
// what they can; an error means the mechanism itself is unavailable.
type Emitter interface {
	// TypeText emits one segment of text without newlines.
	TypeText(text string) error

	// PressEnter emits a single Return keypress.
	PressEnter() error
}

// Config selects and tunes the injection mechanism.
type Config struct {
	// Method selects the injection strategy: "xdotool" or "paste".
	Method string

	// Timeout bounds one injection command.
	Timeout time.Duration
}

// Injector types fragments and whole transcripts. It is owned by a
// single execution path; the newline buffer is deliberately unguarded.
type Injector struct {
	emitter Emitter
	logger  *logging.Logger

	// pendingNewlines counts newline keypresses held back because they
	// terminated the previous fragment.
	pendingNewlines int
}

// New builds an injector for the configured method. Unknown methods
// fall back to xdotool with a warning rather than failing: by the time
// text reaches the injector the user has already spoken it.
func New(cfg Config, logger *logging.Logger) *Injector {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("typer")

	var emitter Emitter
	switch strings.ToLower(cfg.Method) {
	case "", "xdotool":
		emitter = NewXdoEmitter(cfg.Timeout, logger)
	case "paste":
		emitter = NewPasteEmitter(logger)
	default:
		logger.Warn("unknown typing method, using xdotool", "method", cfg.Method)
		emitter = NewXdoEmitter(cfg.Timeout, logger)
	}
	return NewInjector(emitter, logger)
}

// NewInjector wraps a specific emitter.
func NewInjector(emitter Emitter, logger *logging.Logger) *Injector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Injector{
		emitter: emitter,
		logger:  logger.WithComponent("typer"),
	}
}

// TypeAll injects a complete string. Blank input is a warned no-op.
func (inj *Injector) TypeAll(text string) error {
	if strings.TrimSpace(text) == "" {
		inj.logger.Warn("nothing to type")
		return nil
	}

	inj.logger.Info("typing text", "chars", len(text))
	err := inj.Push(text)
	if flushErr := inj.Flush(); err == nil {
		err = flushErr
	}
	return err
}

// Push injects one stream fragment. Newlines that terminate the
// fragment are buffered; newlines between segments are typed as Return
// presses. Emitter failures are collected but do not stop delivery of
// the rest of the fragment.
func (inj *Injector) Push(fragment string) error {
	if fragment == "" {
		// An empty fragment proves nothing about whether the buffered
		// newlines are trailing.
		return nil
	}

	firstErr := inj.emitPendingNewlines()

	content := strings.TrimRight(fragment, "\n")
	trailing := len(fragment) - len(content)

	if content != "" {
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			if strings.TrimSpace(line) != "" {
				if err := inj.emitter.TypeText(line); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if i < len(lines)-1 {
				if err := inj.emitter.PressEnter(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	inj.pendingNewlines += trailing
	return firstErr
}

// Flush discards buffered trailing newlines. The orchestrator calls it
// once a stream is complete, before any indicator glyph, so dictated
// text never ends in a blank line.
func (inj *Injector) Flush() error {
	if inj.pendingNewlines > 0 {
		inj.logger.Debug("discarding trailing newlines", "count", inj.pendingNewlines)
		inj.pendingNewlines = 0
	}
	return nil
}

func (inj *Injector) emitPendingNewlines() error {
	var firstErr error
	for inj.pendingNewlines > 0 {
		if err := inj.emitter.PressEnter(); err != nil && firstErr == nil {
			firstErr = err
		}
		inj.pendingNewlines--
	}
	return firstErr
}

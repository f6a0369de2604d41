package typer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"dictate/internal/logging"
)

const defaultCommandTimeout = 30 * time.Second

// XdoEmitter types through the xdotool utility on X11 sessions.
type XdoEmitter struct {
	timeout time.Duration
	logger  *logging.Logger
}

func NewXdoEmitter(timeout time.Duration, logger *logging.Logger) *XdoEmitter {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &XdoEmitter{
		timeout: timeout,
		logger:  logger.WithComponent("typer"),
	}
}

// TypeText sends the whole segment in one xdotool call and retries
// character by character when the bulk call fails. A character that
// still cannot be typed is logged and skipped so the rest of the text
// survives.
func (e *XdoEmitter) TypeText(text string) error {
	err := e.run("type", "--clearmodifiers", "--", text)
	if err == nil {
		return nil
	}
	e.logger.Warn("bulk typing failed, retrying character by character", "error", err)

	for _, r := range text {
		if err := e.run("type", "--clearmodifiers", "--", string(r)); err != nil {
			e.logger.Warn("skipping untypable character", "char", string(r), "error", err)
		}
	}
	return nil
}

// PressEnter emits a Return keypress.
func (e *XdoEmitter) PressEnter() error {
	return e.run("key", "--clearmodifiers", "Return")
}

func (e *XdoEmitter) run(args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "xdotool", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("typer: xdotool %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("typer: xdotool %s: %w", args[0], err)
	}
	return nil
}

// Package notify shows session status through desktop notifications.
//
// Notifications are feedback only. Every failure is logged and
// swallowed: a session must run identically with or without a
// notification daemon on the bus.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"dictate/internal/logging"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"

	appName = "dictate"
)

// Config tunes the status notifications.
type Config struct {
	// Enabled turns notifications on.
	Enabled bool

	// Timeout is how long a notification stays visible.
	Timeout time.Duration
}

// Notifier sends status updates to the desktop notification daemon.
// Consecutive updates replace each other so the session shows as one
// changing indicator, not a stack of stale messages.
type Notifier struct {
	config Config
	logger *logging.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	connErr error
	tried   bool
	lastID  uint32
}

func New(cfg Config, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{
		config: cfg,
		logger: logger.WithComponent("notify"),
	}
}

// RecordingStarted announces that the microphone is live.
func (n *Notifier) RecordingStarted() {
	n.send("audio-input-microphone", "Recording", "Dictation is capturing audio")
}

// Processing announces that captured audio is being transcribed.
func (n *Notifier) Processing() {
	n.send("system-run", "Transcribing", "Processing the captured audio")
}

// SessionComplete announces the end of a session.
func (n *Notifier) SessionComplete(chars int) {
	n.send("dialog-information", "Dictation complete", completeBody(chars))
}

// SessionFailed announces a session that could not deliver text.
func (n *Notifier) SessionFailed(reason string) {
	n.send("dialog-error", "Dictation failed", reason)
}

func completeBody(chars int) string {
	if chars == 0 {
		return "No speech detected"
	}
	return fmt.Sprintf("Typed %d characters", chars)
}

func (n *Notifier) send(icon, summary, body string) {
	if !n.config.Enabled {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	conn, err := n.sessionBus()
	if err != nil {
		n.logger.Debug("notification bus unavailable", "error", err)
		return
	}

	expire := int32(n.config.Timeout / time.Millisecond)
	obj := conn.Object(busName, objectPath)
	call := obj.Call(notifyCall, 0,
		appName,
		n.lastID,
		icon,
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{},
		expire,
	)
	if call.Err != nil {
		n.logger.Warn("notification failed", "summary", summary, "error", call.Err)
		return
	}
	if err := call.Store(&n.lastID); err != nil {
		n.logger.Debug("notification id unavailable", "error", err)
	}
}

// sessionBus connects once. The shared session bus connection belongs
// to the process, so it is never closed here.
func (n *Notifier) sessionBus() (*dbus.Conn, error) {
	if n.conn != nil {
		return n.conn, nil
	}
	if n.tried {
		return nil, n.connErr
	}
	n.tried = true

	conn, err := dbus.SessionBus()
	if err != nil {
		n.connErr = fmt.Errorf("notify: session bus: %w", err)
		return nil, n.connErr
	}
	n.conn = conn
	return conn, nil
}

//go:build linux

package focus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"dictate/internal/logging"
)

// commandTimeout bounds each window-system query. The session is about
// to type text; a hung lookup must not stall it.
const commandTimeout = 5 * time.Second

type linuxDetector struct {
	logger  *logging.Logger
	timeout time.Duration
}

func newPlatformDetector(logger *logging.Logger) Detector {
	if logger == nil {
		logger = logging.Default()
	}
	return &linuxDetector{
		logger:  logger.WithComponent("focus"),
		timeout: commandTimeout,
	}
}

func (d *linuxDetector) Available() (bool, string) {
	switch displayServer() {
	case "x11":
		if _, err := exec.LookPath("xdotool"); err == nil {
			return true, "X11 window detection available (xdotool)"
		}
		if _, err := exec.LookPath("xprop"); err == nil {
			return true, "X11 window detection available (xprop)"
		}
		return false, "X11 detected but neither xdotool nor xprop is installed"
	case "wayland":
		return true, "Wayland detected; window detection works on GNOME Shell only"
	default:
		return false, "no display server detected"
	}
}

func (d *linuxDetector) ActiveWindow(ctx context.Context) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch displayServer() {
	case "x11":
		info, err := d.activeWindowXdotool(ctx)
		if err == nil {
			return info, nil
		}
		d.logger.Debug("xdotool lookup failed, falling back to xprop", "error", err)
		return d.activeWindowXprop(ctx)
	case "wayland":
		return d.activeWindowGnomeShell(ctx)
	default:
		return Info{}, errors.New("focus: no display server detected")
	}
}

// displayServer reports "x11", "wayland" or "unknown". XWayland
// sessions expose DISPLAY and are treated as X11.
func displayServer() string {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if os.Getenv("DISPLAY") != "" {
			return "x11"
		}
		return "wayland"
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11"
	}
	return "unknown"
}

func (d *linuxDetector) output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("focus: %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// activeWindowXdotool resolves the focused window with chained xdotool
// commands. Only the class is required; title and PID are extras.
func (d *linuxDetector) activeWindowXdotool(ctx context.Context) (Info, error) {
	class, err := d.output(ctx, "xdotool", "getactivewindow", "getwindowclassname")
	if err != nil {
		return Info{}, err
	}
	info := Info{Class: class}

	if title, err := d.output(ctx, "xdotool", "getactivewindow", "getwindowname"); err == nil {
		info.Title = title
	}
	if raw, err := d.output(ctx, "xdotool", "getactivewindow", "getwindowpid"); err == nil {
		if pid, err := strconv.Atoi(raw); err == nil {
			info.PID = pid
		}
	}
	return info, nil
}

func (d *linuxDetector) activeWindowXprop(ctx context.Context) (Info, error) {
	out, err := d.output(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return Info{}, err
	}
	fields := strings.Fields(out)
	if len(fields) < 5 {
		return Info{}, fmt.Errorf("focus: unexpected xprop output %q", out)
	}
	windowID := fields[len(fields)-1]

	var info Info
	if out, err := d.output(ctx, "xprop", "-id", windowID, "WM_CLASS"); err == nil {
		info.Class = parseXpropValue(out)
	}
	if info.Class == "" {
		return Info{}, fmt.Errorf("focus: window %s reports no class", windowID)
	}
	if out, err := d.output(ctx, "xprop", "-id", windowID, "WM_NAME"); err == nil {
		info.Title = parseXpropValue(out)
	}
	if out, err := d.output(ctx, "xprop", "-id", windowID, "_NET_WM_PID"); err == nil {
		if idx := strings.Index(out, "="); idx != -1 {
			if pid, err := strconv.Atoi(strings.TrimSpace(out[idx+1:])); err == nil {
				info.PID = pid
			}
		}
	}
	return info, nil
}

// parseXpropValue extracts the value from one xprop property line. For
// WM_CLASS output of the form "instance", "class" the class half is
// returned, matching what xdotool getwindowclassname reports.
func parseXpropValue(output string) string {
	idx := strings.Index(output, "=")
	if idx == -1 {
		return ""
	}
	value := strings.TrimSpace(output[idx+1:])
	value = strings.Trim(value, "\"")
	if parts := strings.Split(value, "\", \""); len(parts) > 1 {
		return strings.Trim(parts[1], "\"")
	}
	return value
}

// activeWindowGnomeShell asks GNOME Shell over D-Bus. Wayland blocks
// generic window inspection, so this only works where the Shell Eval
// interface is exposed.
func (d *linuxDetector) activeWindowGnomeShell(ctx context.Context) (Info, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return Info{}, fmt.Errorf("focus: session bus: %w", err)
	}

	obj := conn.Object("org.gnome.Shell", "/org/gnome/Shell")
	call := obj.CallWithContext(ctx, "org.gnome.Shell.Eval", 0,
		"global.display.focus_window?.get_wm_class() || ''")
	if call.Err != nil {
		return Info{}, fmt.Errorf("focus: shell eval: %w", call.Err)
	}

	var ok bool
	var raw string
	if err := call.Store(&ok, &raw); err != nil {
		return Info{}, fmt.Errorf("focus: shell eval result: %w", err)
	}
	if !ok {
		return Info{}, errors.New("focus: GNOME Shell rejected the eval call")
	}

	class := unquoteShellResult(raw)
	if class == "" {
		return Info{}, errors.New("focus: GNOME Shell reports no focused window")
	}
	return Info{Class: class}, nil
}

// unquoteShellResult unwraps the JSON-encoded string the Eval call
// returns for a string expression.
func unquoteShellResult(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return strings.Trim(strings.TrimSpace(raw), "\"")
	}
	return s
}

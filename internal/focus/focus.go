// Package focus identifies the application that will receive the
// dictated text.
//
// Detection is strictly best-effort. Window systems differ in what
// they expose and some expose nothing; every failure degrades to "no
// rewrite directive" and must never block typing.
package focus

import (
	"context"

	"dictate/internal/logging"
)

// Info describes the focused window at the moment of lookup.
type Info struct {
	// Class is the application identifier used for directive matching
	// (the WM_CLASS class name on X11, e.g. "Google-chrome").
	Class string

	// Title is the window title, when the window system reports one.
	Title string

	// PID is the owning process, when the window system reports one.
	PID int
}

// Detector resolves the currently focused window.
type Detector interface {
	// ActiveWindow returns the focused window. The error carries the
	// reason detection failed; callers treat it as "no directive".
	ActiveWindow(ctx context.Context) (Info, error)

	// Available reports whether detection can work in this session,
	// with a human-readable explanation.
	Available() (bool, string)
}

// New returns the detector for this platform.
func New(logger *logging.Logger) Detector {
	return newPlatformDetector(logger)
}

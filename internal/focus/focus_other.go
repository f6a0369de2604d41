//go:build !linux

package focus

import (
	"context"
	"errors"

	"dictate/internal/logging"
)

type stubDetector struct{}

func newPlatformDetector(_ *logging.Logger) Detector {
	return stubDetector{}
}

func (stubDetector) ActiveWindow(context.Context) (Info, error) {
	return Info{}, errors.New("focus: window detection not supported on this platform")
}

func (stubDetector) Available() (bool, string) {
	return false, "window detection is only implemented for Linux"
}

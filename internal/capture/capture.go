// Package capture records microphone audio by spawning an external
// PulseAudio capture process and buffering its raw PCM output.
//
// A dictation take is short (seconds to a few minutes of 16 kHz mono),
// so the recorder keeps the whole take in memory and renders it to a
// WAV file only when the session stops. The capture process is torn
// down with an escalation ladder: interrupt first so it can flush its
// buffers, then terminate, then kill.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"dictate/internal/logging"
)

var (
	// ErrAlreadyRecording is returned by Start when a capture process
	// is still running.
	ErrAlreadyRecording = errors.New("capture: recording already in progress")

	// ErrUnavailable is returned by Start when the audio input source
	// cannot be opened: the capture tool is missing or the device is
	// unusable.
	ErrUnavailable = errors.New("capture: audio input unavailable")
)

// readBlockSize is the pipe read granularity. 16 KiB is roughly half a
// second of 16 kHz mono 16-bit PCM.
const readBlockSize = 16 * 1024

// Config controls the capture process and the output encoding.
type Config struct {
	// Command is the capture binary to spawn. It must write raw PCM
	// frames to stdout until interrupted.
	Command string

	// Device selects a specific audio source. Empty uses the server
	// default.
	Device string

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count (1 = mono).
	Channels int

	// SampleFormat is the frame format requested from the capture
	// command: s16ne, s16le or s16be.
	SampleFormat string

	// LatencyMs asks the capture command for a small internal buffer
	// so stopping loses at most a few milliseconds of speech.
	LatencyMs int

	// OutputPath is where the WAV file is written on stop.
	OutputPath string

	// StopGrace bounds each rung of the stop escalation ladder.
	StopGrace time.Duration
}

// DefaultConfig returns capture settings matching what the speech
// backends expect: 16 kHz mono 16-bit PCM.
func DefaultConfig(outputPath string) Config {
	return Config{
		Command:      "parec",
		SampleRate:   16000,
		Channels:     1,
		SampleFormat: "s16ne",
		LatencyMs:    10,
		OutputPath:   outputPath,
		StopGrace:    5 * time.Second,
	}
}

// args builds the capture command line.
func (c Config) args() []string {
	args := []string{
		"--record",
		fmt.Sprintf("--rate=%d", c.SampleRate),
		fmt.Sprintf("--channels=%d", c.Channels),
		"--format=" + c.SampleFormat,
		fmt.Sprintf("--latency=%d", c.LatencyMs),
	}
	if c.Device != "" {
		args = append(args, "--device="+c.Device)
	}
	return args
}

// pcmDuration converts a raw PCM byte count to wall time.
func (c Config) pcmDuration(n int) time.Duration {
	bytesPerSecond := c.SampleRate * c.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bytesPerSecond) * float64(time.Second))
}

// Result describes a finished capture.
type Result struct {
	// Path of the written WAV file. Empty when no audio was captured.
	Path string

	// Bytes of raw PCM captured.
	Bytes int

	// Duration of the captured audio derived from the PCM length.
	Duration time.Duration
}

// Recorder runs a single capture process and accumulates its output.
// Stop is idempotent and may be called from a signal handler while the
// reader goroutine is still draining the pipe.
type Recorder struct {
	mu     sync.Mutex
	config Config
	logger *logging.Logger

	cmd *exec.Cmd

	// bufMu guards buf, which only the reader goroutine appends to.
	bufMu sync.Mutex
	buf   []byte

	// readerDone closes once the pipe hits EOF and the process has
	// been reaped.
	readerDone chan struct{}

	running bool
	stopped bool
	result  Result
}

// NewRecorder creates a recorder for the given configuration.
func NewRecorder(cfg Config, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		config: cfg,
		logger: logger.WithComponent("capture"),
	}
}

// Start removes any WAV file a previous run left at the output path,
// launches the capture process and begins buffering its output.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRecording
	}

	if err := os.Remove(r.config.OutputPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("capture: remove stale recording: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.config.Command, r.config.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, r.config.Command, err)
	}

	r.cmd = cmd
	r.bufMu.Lock()
	r.buf = nil
	r.bufMu.Unlock()
	r.readerDone = make(chan struct{})
	r.running = true
	r.stopped = false
	r.result = Result{}

	go r.readLoop(stdout)

	r.logger.Info("recording started",
		"command", r.config.Command,
		"rate", r.config.SampleRate,
		"channels", r.config.Channels,
		"pid", cmd.Process.Pid)
	return nil
}

// readLoop drains the capture process stdout into the buffer, then
// reaps the process. Wait must not run until the pipe is at EOF, so
// the reaping lives here rather than in Stop.
func (r *Recorder) readLoop(stdout io.Reader) {
	defer close(r.readerDone)
	defer logging.DefaultCrashHandler().RecoverGoroutine()

	block := make([]byte, readBlockSize)
	for {
		n, err := stdout.Read(block)
		if n > 0 {
			r.bufMu.Lock()
			r.buf = append(r.buf, block[:n]...)
			r.bufMu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Debug("capture stream closed", "error", err)
			}
			break
		}
	}

	// An interrupt-terminated capture process reports a signal exit.
	// That is the normal shutdown path, not a failure.
	if err := r.cmd.Wait(); err != nil {
		r.logger.Debug("capture process exited", "error", err)
	}
}

// Stop shuts the capture process down, drains whatever the pipe still
// holds and writes the WAV file. No file is written when nothing was
// captured. Repeated calls return the first call's result.
func (r *Recorder) Stop() (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return r.result, nil
	}
	if r.cmd == nil {
		r.logger.Warn("no capture process to stop")
		r.stopped = true
		return Result{}, nil
	}

	r.shutdownProcess()

	r.bufMu.Lock()
	pcm := r.buf
	r.bufMu.Unlock()

	r.running = false
	r.stopped = true
	r.result = Result{
		Bytes:    len(pcm),
		Duration: r.config.pcmDuration(len(pcm)),
	}

	if len(pcm) == 0 {
		r.logger.Warn("no audio captured")
		return r.result, nil
	}

	if err := writeWAV(r.config.OutputPath, pcm, r.config.SampleRate, r.config.Channels, r.config.SampleFormat); err != nil {
		return r.result, err
	}
	r.result.Path = r.config.OutputPath

	r.logger.Info("recording stopped",
		"bytes", r.result.Bytes,
		"duration", r.result.Duration.Round(time.Millisecond),
		"path", r.result.Path)
	return r.result, nil
}

// Running reports whether a capture process is active.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && !r.stopped
}

// shutdownProcess walks the interrupt, terminate, kill ladder. parec
// flushes and exits on interrupt; the harder signals only fire when
// the process wedges.
func (r *Recorder) shutdownProcess() {
	proc := r.cmd.Process

	if err := proc.Signal(os.Interrupt); err != nil {
		r.logger.Debug("interrupt not delivered, killing capture process", "error", err)
		_ = proc.Kill()
		r.waitExit(r.config.StopGrace)
		return
	}
	if r.waitExit(r.config.StopGrace) {
		return
	}

	r.logger.Warn("capture process ignored interrupt, terminating")
	_ = proc.Signal(syscall.SIGTERM)
	if r.waitExit(r.config.StopGrace) {
		return
	}

	r.logger.Warn("capture process ignored terminate, killing")
	_ = proc.Kill()
	if !r.waitExit(r.config.StopGrace) {
		r.logger.Error("capture process did not exit after kill")
	}
}

// waitExit waits up to d for the reader to drain and the process to be
// reaped.
func (r *Recorder) waitExit(d time.Duration) bool {
	select {
	case <-r.readerDone:
		return true
	case <-time.After(d):
		return false
	}
}

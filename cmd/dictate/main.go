// dictate is a push-to-talk dictation utility. "dictate begin" records
// the microphone until "dictate end" signals it, then the transcript
// is rewritten for the focused window and typed into it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dictate/internal/config"
	"dictate/internal/focus"
	"dictate/internal/lockfile"
	"dictate/internal/logging"
	"dictate/internal/rewrite"
	"dictate/internal/security"
	"dictate/internal/session"
)

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	defer logging.RecoverPanic()
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	// API keys tend to live in a .env next to the user's hotkey
	// script rather than the login environment.
	_ = godotenv.Load()

	switch flag.Arg(0) {
	case "begin":
		cmdBegin(flag.Args()[1:])
	case "end":
		cmdEnd()
	case "status":
		cmdStatus()
	case "check":
		cmdCheck(flag.Args()[1:])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `dictate - voice dictation into the focused window

Usage: dictate [options] <command> [args]

Commands:
  begin [-backend <name>]     Record until 'dictate end' signals, then type
  end                         Signal the recording session to stop and deliver
  status                      Show session and configuration state
  check [-directives <path>]  Verify binaries, API keys and directives
  help                        Show this help message

Options:
  -config <path>  Path to config file (default: ` + config.ConfigPath() + `)`)
}

// resolveConfigPath picks the config file: the -config flag, then a
// config file in a standard location (the working directory first, so a
// config.toml next to the hotkey script wins), then the default path,
// which may not exist yet.
func resolveConfigPath() string {
	if *configPath != "" {
		return *configPath
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func loadConfig() *config.Config {
	path := resolveConfigPath()
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Fprintf(os.Stderr, "Wrote default config to %s\n", path)
	}
	return cfg
}

// setupLogging replaces the default logger with one built from the
// config file. Failures fall back to the stderr default.
func setupLogging(cfg *config.Config) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format := logging.FormatText
	if strings.EqualFold(cfg.Logging.Format, "json") {
		format = logging.FormatJSON
	}

	logger, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "dictate",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging setup failed: %v\n", err)
		return
	}
	logging.SetDefault(logger)
}

func cmdBegin(args []string) {
	fs := flag.NewFlagSet("begin", flag.ExitOnError)
	backend := fs.String("backend", "", "transcription backend for this session (deepgram or assemblyai)")
	fs.Parse(args)

	cfg := loadConfig()
	if *backend != "" {
		cfg.Transcription.Backend = *backend
	}
	setupLogging(cfg)

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing directories: %v\n", err)
		os.Exit(1)
	}
	if created, err := rewrite.EnsureDefaultFile(cfg.Rewrite.DirectivesPath); err != nil {
		logging.Warn("could not write starter directives", "error", err)
	} else if created {
		logging.Info("wrote starter directives", "path", cfg.Rewrite.DirectivesPath)
	}

	if err := runBegin(cfg); err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			fmt.Fprintf(os.Stderr, "Error: %v\nRun 'dictate end' to finish it first.\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// runBegin blocks for the whole session: recording until the stop
// signal, then transcription, rewriting and typing.
func runBegin(cfg *config.Config) error {
	ctl, err := session.New(cfg, logging.Default())
	if err != nil {
		return err
	}
	defer ctl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return ctl.Run(ctx)
}

func cmdEnd() {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := session.End(cfg.Session.PidFile, logging.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus() {
	cfg := loadConfig()

	status, err := session.Current(cfg.Session.PidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== dictate Status ===")
	fmt.Println()

	switch {
	case status.Running:
		fmt.Printf("Session: RECORDING (PID %d", status.Pid)
		if !status.Since.IsZero() {
			fmt.Printf(", %s", time.Since(status.Since).Round(time.Second))
		}
		fmt.Println(")")
	case status.Stale:
		fmt.Printf("Session: STALE LOCK (PID %d not found)\n", status.Pid)
	default:
		fmt.Println("Session: idle")
	}
	fmt.Println()

	fmt.Println("Transcription:")
	fmt.Printf("  Backend: %s\n", cfg.Transcription.Backend)
	fmt.Printf("  API key: %s\n", keyStatus(backendKey(cfg)))
	fmt.Println()

	fmt.Println("Rewrite:")
	if cfg.Rewrite.APIKey == "" {
		fmt.Println("  Disabled (GEMINI_API_KEY not set)")
	} else {
		fmt.Printf("  Model: %s\n", cfg.Rewrite.Model)
		fmt.Printf("  Streaming: %v\n", cfg.Rewrite.Streaming)
	}
	fmt.Printf("  Directives: %s%s\n", cfg.Rewrite.DirectivesPath, missingNote(cfg.Rewrite.DirectivesPath))
	fmt.Println()

	fmt.Println("Typing:")
	fmt.Printf("  Method: %s\n", cfg.Typing.Method)
	fmt.Println()

	fmt.Printf("Recording path: %s\n", cfg.Audio.RecordingPath)
	fmt.Printf("Lock file:      %s\n", cfg.Session.PidFile)
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	directivesPath := fs.String("directives", "", "directives file to validate (default: configured path)")
	fs.Parse(args)

	cfg := loadConfig()
	failures := 0

	fmt.Println("=== dictate Environment Check ===")
	fmt.Println()

	fmt.Println("Audio capture:")
	if path, err := exec.LookPath(cfg.Audio.Command); err != nil {
		fmt.Printf("  ✗ %s not found on PATH\n", cfg.Audio.Command)
		failures++
	} else {
		fmt.Printf("  ✓ %s (%s)\n", cfg.Audio.Command, path)
	}
	fmt.Println()

	fmt.Println("Typing:")
	switch strings.ToLower(cfg.Typing.Method) {
	case "", "xdotool":
		if path, err := exec.LookPath("xdotool"); err != nil {
			fmt.Println("  ✗ xdotool not found on PATH")
			failures++
		} else {
			fmt.Printf("  ✓ xdotool (%s)\n", path)
		}
	case "paste":
		fmt.Println("  ✓ paste method (clipboard plus virtual keyboard)")
	default:
		fmt.Printf("  ✗ unknown typing method %q\n", cfg.Typing.Method)
		failures++
	}
	fmt.Println()

	fmt.Println("Window detection:")
	if ok, reason := focus.New(logging.Default()).Available(); ok {
		fmt.Println("  ✓ available")
	} else {
		fmt.Printf("  - unavailable: %s (transcripts are typed without rewriting)\n", reason)
	}
	fmt.Println()

	fmt.Println("Transcription:")
	if key := backendKey(cfg); key == "" {
		fmt.Printf("  ✗ no API key for backend %q\n", cfg.Transcription.Backend)
		failures++
	} else {
		fmt.Printf("  ✓ %s key set\n", cfg.Transcription.Backend)
	}
	fmt.Println()

	fmt.Println("Rewrite:")
	if cfg.Rewrite.APIKey == "" {
		fmt.Println("  - GEMINI_API_KEY not set (rewriting disabled)")
	} else {
		fmt.Println("  ✓ gemini key set")
	}
	dirPath := cfg.Rewrite.DirectivesPath
	if *directivesPath != "" {
		dirPath = *directivesPath
	}
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		fmt.Printf("  - no directives file at %s (transcripts typed verbatim)\n", dirPath)
	} else if directives, err := rewrite.Load(dirPath); err != nil {
		fmt.Printf("  ✗ %v\n", err)
		failures++
	} else {
		fmt.Printf("  ✓ %s: %d prompts, %d application groups\n",
			dirPath, len(directives.Prompts), len(directives.Applications))
	}
	fmt.Println()

	fmt.Println("File permissions:")
	checkSecretPerm(resolveConfigPath(), &failures)
	checkSecretPerm(".env", &failures)

	if failures > 0 {
		fmt.Printf("\n%d problem(s) found\n", failures)
		os.Exit(1)
	}
	fmt.Println("\nAll required checks passed")
}

// checkSecretPerm reports whether a key-bearing file is private to its
// owner. A missing file is fine; a group- or world-readable one exposes
// API keys and fails the check.
func checkSecretPerm(path string, failures *int) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("  - %s not present\n", path)
		return
	}
	if err := security.CheckSecretFile(path); err != nil {
		fmt.Printf("  ✗ %v (run: chmod 600 %s)\n", err, path)
		*failures++
		return
	}
	fmt.Printf("  ✓ %s is owner-only\n", path)
}

// backendKey returns the API key for the configured transcription
// backend, empty when unset or the backend is unknown.
func backendKey(cfg *config.Config) string {
	switch strings.ToLower(cfg.Transcription.Backend) {
	case "deepgram":
		return cfg.Transcription.Deepgram.APIKey
	case "assemblyai":
		return cfg.Transcription.AssemblyAI.APIKey
	}
	return ""
}

func keyStatus(key string) string {
	if key == "" {
		return "NOT SET"
	}
	return "set"
}

func missingNote(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return " (not found)"
	}
	return ""
}

package typer

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"dictate/internal/logging"
)

// clipboardSettle gives the target application time to read the
// clipboard before it is restored.
const clipboardSettle = 120 * time.Millisecond

// PasteEmitter delivers text through the clipboard with a synthetic
// Ctrl+V. Some applications drop rapid synthetic keystrokes; pasting
// hands them the whole segment at once.
type PasteEmitter struct {
	logger *logging.Logger

	setupOnce sync.Once
	setupErr  error
	kb        keybd_event.KeyBonding
}

func NewPasteEmitter(logger *logging.Logger) *PasteEmitter {
	if logger == nil {
		logger = logging.Default()
	}
	return &PasteEmitter{logger: logger.WithComponent("typer")}
}

// setup builds the virtual keyboard once. On Linux the uinput device
// needs a moment to register before it can deliver events.
func (e *PasteEmitter) setup() error {
	e.setupOnce.Do(func() {
		kb, err := keybd_event.NewKeyBonding()
		if err != nil {
			e.setupErr = fmt.Errorf("typer: virtual keyboard: %w", err)
			return
		}
		if runtime.GOOS == "linux" {
			time.Sleep(2 * time.Second)
		}
		e.kb = kb
	})
	return e.setupErr
}

// TypeText places the segment on the clipboard, pastes it, and
// restores the previous clipboard contents best-effort.
func (e *PasteEmitter) TypeText(text string) error {
	if err := e.setup(); err != nil {
		return err
	}

	previous, readErr := clipboard.ReadAll()
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("typer: set clipboard: %w", err)
	}
	time.Sleep(80 * time.Millisecond)

	kb := e.kb
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("typer: paste keystroke: %w", err)
	}

	time.Sleep(clipboardSettle)
	if readErr == nil {
		if err := clipboard.WriteAll(previous); err != nil {
			e.logger.Warn("could not restore clipboard", "error", err)
		}
	}
	return nil
}

// PressEnter emits a Return keypress through the virtual keyboard.
func (e *PasteEmitter) PressEnter() error {
	if err := e.setup(); err != nil {
		return err
	}

	kb := e.kb
	kb.SetKeys(keybd_event.VK_ENTER)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("typer: enter keystroke: %w", err)
	}
	return nil
}

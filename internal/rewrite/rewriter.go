package rewrite

import (
	"context"
	"strings"

	"dictate/internal/logging"
)

// Sink consumes rewrite output. Implementations decide how text
// reaches the screen; the rewriter only decides what text to send.
type Sink interface {
	// Push delivers one text fragment.
	Push(fragment string) error

	// Flush marks the stream complete, discarding any text the sink
	// was still holding back.
	Flush() error
}

// Config wires the rewriter together.
type Config struct {
	// DirectivesPath locates the YAML document of prompts and
	// application groups.
	DirectivesPath string

	// WatchDirectives refreshes the directive set when the file
	// changes. Reload is otherwise explicit.
	WatchDirectives bool

	// Indicator is the completion glyph used when the directives file
	// does not set one.
	Indicator string

	Gemini GeminiConfig
}

// Rewriter selects directives for the focused application and runs
// transcripts through the language model.
type Rewriter struct {
	config Config
	store  *Store
	client *geminiClient
	logger *logging.Logger
}

// New loads the directives document and prepares the model client. An
// invalid document fails construction; a missing one only disables
// rewriting.
func New(cfg Config, logger *logging.Logger) (*Rewriter, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("rewrite")

	store := NewStore(cfg.DirectivesPath, logger)
	if _, err := store.Load(); err != nil {
		return nil, err
	}
	if cfg.WatchDirectives {
		if err := store.Watch(); err != nil {
			logger.Warn("directives watch unavailable", "error", err)
		}
	}

	return &Rewriter{
		config: cfg,
		store:  store,
		client: newGeminiClient(cfg.Gemini),
		logger: logger,
	}, nil
}

// Enabled reports whether a model credential is configured. Without
// one every transcript passes through unchanged.
func (r *Rewriter) Enabled() bool {
	return r.client.config.APIKey != ""
}

// SelectDirective resolves the rewrite directive for the focused
// application identifier. Nil means the transcript passes through.
func (r *Rewriter) SelectDirective(appClass string) *Directive {
	directive := r.store.Directives().Select(appClass)
	if directive == nil {
		r.logger.Debug("no rewrite directive for application", "app_class", appClass)
		return nil
	}
	r.logger.Info("rewrite directive selected",
		"app_class", appClass,
		"directive", directive.Name)
	return directive
}

// Reload re-reads the directives document.
func (r *Rewriter) Reload() error {
	_, err := r.store.Load()
	return err
}

// Close releases the directives watcher, if one was started.
func (r *Rewriter) Close() error {
	return r.store.Close()
}

// Rewrite runs the transcript through the model under the directive
// and returns the rewritten text. Every failure path returns the
// original transcript: rewriting is best-effort and must never lose
// the user's words.
func (r *Rewriter) Rewrite(ctx context.Context, transcript string, directive *Directive, windowTitle string) string {
	if directive == nil || !r.Enabled() {
		return transcript
	}

	prompt := expandTemplate(directive.Template, transcript, windowTitle)
	ctx, cancel := context.WithTimeout(ctx, r.client.config.Timeout)
	defer cancel()

	out, err := r.client.generate(ctx, prompt)
	if err != nil {
		r.logger.Error("rewrite failed, using original transcript",
			"directive", directive.Name,
			"error", err)
		return transcript
	}

	out = strings.TrimSpace(out)
	if out == "" {
		r.logger.Warn("rewrite produced no output, using original transcript",
			"directive", directive.Name)
		return transcript
	}

	r.logger.Info("transcript rewritten",
		"directive", directive.Name,
		"input_chars", len(transcript),
		"output_chars", len(out))
	return out
}

// RewriteStream runs the transcript through the model and pushes
// fragments into the sink as they arrive. When the model fails before
// producing any output the original transcript is pushed instead. A
// failure after fragments have already been delivered keeps the
// partial output: repeating the original at that point would type the
// text twice.
func (r *Rewriter) RewriteStream(ctx context.Context, transcript string, directive *Directive, windowTitle string, sink Sink) {
	if directive == nil || !r.Enabled() {
		r.deliver(sink, transcript)
		return
	}

	prompt := expandTemplate(directive.Template, transcript, windowTitle)
	ctx, cancel := context.WithTimeout(ctx, r.client.config.Timeout)
	defer cancel()

	fragments, done, err := r.client.generateStream(ctx, prompt)
	if err != nil {
		r.logger.Error("rewrite stream failed to start, using original transcript",
			"directive", directive.Name,
			"error", err)
		r.deliver(sink, transcript)
		return
	}

	delivered := 0
	for fragment := range fragments {
		if err := sink.Push(fragment); err != nil {
			r.logger.Warn("sink rejected fragment", "error", err)
		}
		delivered++
	}

	if err := <-done; err != nil {
		if delivered == 0 {
			r.logger.Error("rewrite stream failed before any output, using original transcript",
				"directive", directive.Name,
				"error", err)
			r.deliver(sink, transcript)
			return
		}
		r.logger.Error("rewrite stream failed mid-delivery",
			"directive", directive.Name,
			"fragments", delivered,
			"error", err)
		r.flush(sink)
		return
	}

	if delivered == 0 {
		r.logger.Warn("rewrite stream produced no output, using original transcript",
			"directive", directive.Name)
		r.deliver(sink, transcript)
		return
	}

	r.logger.Info("transcript rewritten",
		"directive", directive.Name,
		"fragments", delivered)
	r.flush(sink)

	if directive.AddIndicator {
		if err := sink.Push(" " + r.indicator()); err != nil {
			r.logger.Warn("sink rejected indicator", "error", err)
		}
	}
}

// deliver pushes text verbatim and completes the stream.
func (r *Rewriter) deliver(sink Sink, text string) {
	if text != "" {
		if err := sink.Push(text); err != nil {
			r.logger.Warn("sink rejected transcript", "error", err)
		}
	}
	r.flush(sink)
}

func (r *Rewriter) flush(sink Sink) {
	if err := sink.Flush(); err != nil {
		r.logger.Warn("sink flush failed", "error", err)
	}
}

// indicator resolves the completion glyph: the directives file wins,
// then the application configuration, then the built-in default.
func (r *Rewriter) indicator() string {
	if glyph := r.store.Directives().Settings.Indicator; glyph != "" {
		return glyph
	}
	if r.config.Indicator != "" {
		return r.config.Indicator
	}
	return defaultIndicator
}

// Package logging builds the zerolog logger used by the kernelio commands
// and adapts it to the transport's diagnostic and notification hooks.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TraceFile is where --trace mirrors every log line.
const TraceFile = "kernelio.trace"

type Options struct {
	// Level is a zerolog level name; unknown or empty means info.
	Level string
	// Out receives console-formatted output. Defaults to stderr.
	Out io.Writer
	// Trace, when set, also receives every line as JSON.
	Trace io.Writer
	App   string
}

// New builds a logger. The console output never goes to stdout, which
// belongs to the relayed protocol.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if opts.Trace != nil {
		w = zerolog.MultiLevelWriter(w, opts.Trace)
	}

	logger := zerolog.New(w).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	if opts.App != "" {
		logger = logger.With().Str("app", opts.App).Logger()
	}
	return logger
}

// OpenTrace opens TraceFile for appending.
func OpenTrace() (*os.File, error) {
	return os.OpenFile(TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// ParseLevel accepts zerolog level names plus the aliases "warning", "off"
// and "none". Empty or unknown names mean info.
func ParseLevel(raw string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "warning":
		name = "warn"
	case "off", "none":
		name = "disabled"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Channel writes diagnostic lines as info records tagged with the notebook.
type Channel struct {
	logger zerolog.Logger
}

func NewChannel(logger zerolog.Logger, notebookPath string) *Channel {
	return &Channel{logger: logger.With().Str("notebook", notebookPath).Logger()}
}

func (c *Channel) AppendLine(line string) {
	c.logger.Info().Msg(strings.TrimRight(line, "\r\n"))
}

// Notifier logs user-facing messages at error and info level.
type Notifier struct {
	logger zerolog.Logger
}

func NewNotifier(logger zerolog.Logger) *Notifier {
	return &Notifier{logger: logger.With().Bool("user", true).Logger()}
}

func (n *Notifier) DisplayError(message string) {
	n.logger.Error().Msg(message)
}

func (n *Notifier) DisplayInfo(message string) {
	n.logger.Info().Msg(message)
}

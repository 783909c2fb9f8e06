// Package logging provides structured logging shared by the CLI and the
// daemon command, matching the task event fields the design mandates
// (task_id, engine, kind, status, remote, user, src, dst, progress, speed,
// error, msg) instead of ad hoc printf output.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sshferry/sshferry/internal/events"
)

// Logger wraps zerolog with mode-specific output routing.
type Logger struct {
	zlog     zerolog.Logger
	mode     string // "cli" or "daemon"
	eventBus *events.EventBus
	output   io.Writer
}

// NewLogger creates a logger for the given mode. eventBus may be nil.
func NewLogger(mode string, eventBus *events.EventBus) *Logger {
	var output io.Writer
	if mode == "cli" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	return &Logger{
		zlog:     logger,
		mode:     mode,
		eventBus: eventBus,
		output:   output,
	}
}

// NewDefaultCLILogger creates a default CLI logger with no event bus mirror.
func NewDefaultCLILogger() *Logger {
	return NewLogger("cli", nil)
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context { return l.zlog.With() }

// SetOutput redirects logging output (e.g. to run alongside a progress bar).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer { return l.output }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zlog.Warn().Msgf(format, args...) }

// TaskEvent starts one structured line for a task lifecycle transition
// with the task_id (8-char prefix), engine, kind and status fields; the
// caller chains any further fields and sends it. Redaction of sensitive
// fields happens at the call site (e.g. via RedactUser) before they are
// added.
func (l *Logger) TaskEvent(taskID, engine, kind, status string) *zerolog.Event {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return l.zlog.Info().
		Str("task_id", short).
		Str("engine", engine).
		Str("kind", kind).
		Str("status", status)
}

// RedactUser returns a username truncated to its first 3 characters
// followed by "***" (spec.md §7). A name of 3 characters or fewer is
// returned whole, followed by "***".
func RedactUser(user string) string {
	if len(user) <= 3 {
		return user + "***"
	}
	return user[:3] + "***"
}

// SetGlobalLevel sets the global zerolog level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

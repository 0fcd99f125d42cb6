// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/openwork/openwork/internal/config"
)

// Level is a log severity.
type Level int

// Severity levels, ordered.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "info"
}

// charmLevel maps to the pretty backend's level type.
func (l Level) charmLevel() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelInfo:
		return charmlog.InfoLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	}
	return charmlog.InfoLevel
}

type (
	// Options configures a Logger.
	Options struct {
		Format  config.LogFormat
		Color   config.ColorMode
		Verbose bool
		// RunID is stamped into every record as service.instance.id.
		RunID string
		// Out defaults to os.Stderr for pretty and os.Stdout for JSON.
		Out io.Writer
	}

	// Logger is the run-scoped event sink. Component returns a scoped view;
	// the zero component is the orchestrator itself.
	Logger struct {
		format   config.LogFormat
		runID    string
		verbose  bool
		out      io.Writer
		mu       *sync.Mutex
		resource map[string]any

		component string
		pretty    *charmlog.Logger
	}
)

// New creates a Logger for the run.
func New(opts Options) *Logger {
	out := opts.Out
	if out == nil {
		if opts.Format == config.LogJSON {
			out = os.Stdout
		} else {
			out = os.Stderr
		}
	}

	l := &Logger{
		format:   opts.Format,
		runID:    opts.RunID,
		verbose:  opts.Verbose,
		out:      out,
		mu:       &sync.Mutex{},
		resource: resourceAttributes(opts.RunID),
	}

	pretty := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: false,
	})
	if opts.Verbose {
		pretty.SetLevel(charmlog.DebugLevel)
	}
	switch opts.Color {
	case config.ColorNever:
		pretty.SetColorProfile(termenv.Ascii)
	case config.ColorAlways:
		pretty.SetColorProfile(termenv.ANSI256)
	default:
		if f, ok := out.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
			pretty.SetColorProfile(termenv.Ascii)
		}
	}
	l.pretty = pretty

	return l
}

// RunID returns the run correlation id.
func (l *Logger) RunID() string { return l.runID }

// Format returns the configured output format.
func (l *Logger) Format() config.LogFormat { return l.format }

// Component returns a view of the logger scoped to a component name, e.g.
// "opencode" or "daemon". The scope appears as the pretty prefix and as the
// "component" attribute in JSON records.
func (l *Logger) Component(name string) *Logger {
	scoped := *l
	scoped.component = name
	scoped.pretty = l.pretty.WithPrefix(name)
	return &scoped
}

// Debug emits a debug event. Suppressed unless verbose.
func (l *Logger) Debug(msg string, keyvals ...any) { l.emit(LevelDebug, msg, keyvals) }

// Info emits an info event.
func (l *Logger) Info(msg string, keyvals ...any) { l.emit(LevelInfo, msg, keyvals) }

// Warn emits a warning event.
func (l *Logger) Warn(msg string, keyvals ...any) { l.emit(LevelWarn, msg, keyvals) }

// Error emits an error event.
func (l *Logger) Error(msg string, keyvals ...any) { l.emit(LevelError, msg, keyvals) }

func (l *Logger) emit(level Level, msg string, keyvals []any) {
	if level == LevelDebug && !l.verbose {
		return
	}
	if l.format == config.LogJSON {
		l.writeJSON(level, msg, keyvalsToAttrs(keyvals))
		return
	}
	switch level {
	case LevelDebug:
		l.pretty.Debug(msg, keyvals...)
	case LevelInfo:
		l.pretty.Info(msg, keyvals...)
	case LevelWarn:
		l.pretty.Warn(msg, keyvals...)
	case LevelError:
		l.pretty.Error(msg, keyvals...)
	}
}

// Passthrough writes a raw line unchanged. Used when a child already emits
// OTEL-shaped JSON and the run is in JSON mode; re-wrapping would nest the
// record and break downstream collectors.
func (l *Logger) Passthrough(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line+"\n")
}

// keyvalsToAttrs folds charm-style alternating key/value pairs into a map.
// A trailing key without a value is kept with a nil value rather than dropped.
func keyvalsToAttrs(keyvals []any) map[string]any {
	if len(keyvals) == 0 {
		return nil
	}
	attrs := make(map[string]any, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(keyvals) {
			attrs[key] = keyvals[i+1]
		} else {
			attrs[key] = nil
		}
	}
	return attrs
}

// Package logging provides leveled logging and per-agent step tracing.
// It offers two outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A StepTracer writing one JSONL line per agent step (steps.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// LevelTrace is a custom slog level below Debug. At this level every agent
// step is traced.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Marker returns a bullet for diagnostics on f, colored when f is a terminal.
func Marker(f *os.File, color string) string {
	if f == nil || !isatty.IsTerminal(f.Fd()) {
		return "*"
	}
	code := "0"
	switch color {
	case "red":
		code = "31"
	case "green":
		code = "32"
	case "yellow":
		code = "33"
	case "cyan":
		code = "36"
	}
	return "\x1b[" + code + "m*\x1b[0m"
}

// StepTracer writes agent step events to a JSONL file. It is safe for
// concurrent use. A nil StepTracer is safe to use; all methods are no-ops on
// a nil receiver.
type StepTracer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewStepTracer creates a tracer writing to dir/steps.jsonl. Below trace
// level it returns nil and no file is created. It also returns nil if the
// file cannot be opened.
func NewStepTracer(dir, level string) *StepTracer {
	if ParseLevel(level) > LevelTrace {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "steps.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &StepTracer{file: f, enc: json.NewEncoder(f)}
}

// Log writes one event. Safe to call on a nil receiver.
func (st *StepTracer) Log(event any) {
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.file == nil {
		return
	}
	_ = st.enc.Encode(event)
}

// Close closes the underlying file. Safe to call on a nil receiver.
func (st *StepTracer) Close() {
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.file != nil {
		st.file.Close()
		st.file = nil
	}
}

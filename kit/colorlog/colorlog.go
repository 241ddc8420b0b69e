// Package colorlog builds labeled slog loggers. Level tags are colored
// when the output is a terminal.
package colorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	reset  = "\033[0m"
	gray   = "\033[90m"
	cyan   = "\033[36m"
	yellow = "\033[33m"
	red    = "\033[31m"
	purple = "\033[35m"
)

var (
	level   = new(slog.LevelVar)
	outMu   sync.Mutex
	out     io.Writer = os.Stderr
	colored           = isTerminal(os.Stderr)
)

// SetLevel changes the minimum level of every logger created by New,
// including ones created before the call.
func SetLevel(l slog.Level) { level.Set(l) }

// SetOutput redirects every logger. Color is enabled only when w is a
// terminal.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
	f, ok := w.(*os.File)
	colored = ok && isTerminal(f)
}

func New(label string) *slog.Logger {
	return slog.New(&handler{label: label})
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type handler struct {
	label  string
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	outMu.Lock()
	defer outMu.Unlock()

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	paint := func(color, s string) string {
		if !colored {
			return s
		}
		return color + s + reset
	}

	sb.WriteString(paint(gray, ts.Format("15:04:05.000")))
	sb.WriteByte(' ')
	sb.WriteString(levelTag(r.Level, paint))
	sb.WriteByte(' ')
	if h.label != "" {
		sb.WriteString(paint(purple, "["+h.label+"]"))
		sb.WriteByte(' ')
	}
	sb.WriteString(r.Message)

	writeAttr := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		sb.WriteByte(' ')
		sb.WriteString(paint(gray, a.Key+"="))
		sb.WriteString(formatValue(a.Value))
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(h.qualify(a))
		return true
	})
	sb.WriteByte('\n')

	_, err := io.WriteString(out, sb.String())
	return err
}

// Attrs bound with WithAttrs keep the group prefix in effect when
// they were bound.
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
	}
	return &clone
}

func (h *handler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func levelTag(l slog.Level, paint func(string, string) string) string {
	switch {
	case l >= slog.LevelError:
		return paint(red, "ERROR")
	case l >= slog.LevelWarn:
		return paint(yellow, "WARN ")
	case l >= slog.LevelInfo:
		return paint(cyan, "INFO ")
	default:
		return paint(gray, "DEBUG")
	}
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return fmt.Sprintf("%q", s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindGroup:
		parts := make([]string, 0, len(v.Group()))
		for _, a := range v.Group() {
			parts = append(parts, a.Key+"="+formatValue(a.Value))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprint(v.Any())
	}
}

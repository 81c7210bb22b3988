package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogFileName is the log file inside the log directory.
const LogFileName = "pinvault.log"

// redactedKeys are attribute names whose values never reach the log.
var redactedKeys = map[string]bool{
	"pin":      true,
	"password": true,
	"key":      true,
	"secret":   true,
	"identity": true,
}

// lineHandler writes one logfmt line per record:
//
//	time=2024-06-15T14:30:45Z level=INFO run=<runID> msg="session unlocked" method=pin
//
// Attributes under a group are written as group.key. Values of keys listed in
// redactedKeys are replaced. Records are built in full before the single
// write, so concurrent timer callbacks never interleave lines.
type lineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	prefix string // pre-rendered " k=v" pairs from WithAttrs
	group  string // dotted group path for attrs added later
}

func newLineHandler(w io.Writer, level slog.Leveler, runID string) *lineHandler {
	h := &lineHandler{mu: &sync.Mutex{}, w: w, level: level}
	return h.WithAttrs([]slog.Attr{slog.String("run", runID)}).(*lineHandler)
}

func (h *lineHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString("time=")
	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" level=")
	buf.WriteString(r.Level.String())
	buf.WriteString(h.prefix)
	buf.WriteString(" msg=")
	buf.WriteString(quote(r.Message))
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.group, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var buf bytes.Buffer
	for _, a := range attrs {
		appendAttr(&buf, h.group, a)
	}
	h2 := *h
	h2.prefix = h.prefix + buf.String()
	return &h2
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = joinKey(h.group, name)
	return &h2
}

func appendAttr(buf *bytes.Buffer, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		g := group
		if a.Key != "" {
			g = joinKey(group, a.Key)
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, g, ga)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(joinKey(group, a.Key))
	buf.WriteByte('=')
	if redactedKeys[strings.ToLower(a.Key)] {
		buf.WriteString("[redacted]")
		return
	}
	var s string
	switch a.Value.Kind() {
	case slog.KindTime:
		s = a.Value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			s = err.Error()
			break
		}
		s = fmt.Sprint(a.Value.Any())
	default:
		s = a.Value.String()
	}
	buf.WriteString(quote(s))
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// quote leaves simple tokens bare and quotes anything with spaces, quotes,
// '=' or control characters.
func quote(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '"' || r == '=' || r == 0x7f {
			return strconv.Quote(s)
		}
	}
	return s
}

// newLogger creates a structured logger that writes to logDir/pinvault.log.
// Nothing goes to stderr: the interactive shell owns the terminal.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir, runID string, level slog.Level) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return slog.New(newLineHandler(f, level, runID)), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the pv.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

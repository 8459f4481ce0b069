package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/exp/slog"
)

const (
	termTimeFormat = "01-02|15:04:05.000"
	termMsgJust    = 40
)

type discardHandler struct{}

// DiscardHandler returns a no-op handler
func DiscardHandler() slog.Handler {
	return &discardHandler{}
}

func (h *discardHandler) Handle(_ context.Context, r slog.Record) error {
	return nil
}

func (h *discardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return false
}

func (h *discardHandler) WithGroup(name string) slog.Handler {
	panic("not implemented")
}

func (h *discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &discardHandler{}
}

// TerminalHandler formats records for human readability on a terminal:
//
//	[LEVEL] [TIME] MESSAGE key=value key=value ...
//
// Example:
//
//	INFO [10-18|14:11:05.104] collected                kind=copying live=12.0KB
type TerminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	lvl      slog.Level
	useColor bool
	attrs    []slog.Attr
	buf      bytes.Buffer
}

// NewTerminalHandler returns a handler which formats log records at all
// levels.
func NewTerminalHandler(wr io.Writer, useColor bool) *TerminalHandler {
	return NewTerminalHandlerWithLevel(wr, LevelTrace, useColor)
}

// NewTerminalHandlerWithLevel returns the same handler as NewTerminalHandler
// but only outputs records which are at least as severe as lvl.
func NewTerminalHandlerWithLevel(wr io.Writer, lvl slog.Level, useColor bool) *TerminalHandler {
	return &TerminalHandler{wr: wr, lvl: lvl, useColor: useColor}
}

// StderrHandler logs to stderr, in colour when it is a terminal.
func StderrHandler(lvl slog.Level) *TerminalHandler {
	output := io.Writer(os.Stderr)
	useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	if useColor {
		output = colorable.NewColorableStderr()
	}
	return NewTerminalHandlerWithLevel(output, lvl, useColor)
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	h.format(&h.buf, r)
	_, err := h.wr.Write(h.buf.Bytes())
	return err
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	panic("not implemented")
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TerminalHandler{
		wr:       h.wr,
		lvl:      h.lvl,
		useColor: h.useColor,
		attrs:    append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

func levelColor(l slog.Level) int {
	switch l {
	case LevelCrit:
		return 35
	case LevelError:
		return 31
	case LevelWarn:
		return 33
	case LevelInfo:
		return 32
	case LevelDebug:
		return 36
	case LevelTrace:
		return 34
	}
	return 0
}

func (h *TerminalHandler) format(b *bytes.Buffer, r slog.Record) {
	lvl := LevelAlignedString(r.Level)
	if color := levelColor(r.Level); h.useColor && color > 0 {
		fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m", color, lvl)
	} else {
		b.WriteString(lvl)
	}
	b.WriteString("[")
	b.WriteString(r.Time.Format(termTimeFormat))
	b.WriteString("] ")
	b.WriteString(r.Message)

	// Align the context on the right of the message.
	length := len(r.Message)
	if (r.NumAttrs()+len(h.attrs)) > 0 && length < termMsgJust {
		b.Write(bytes.Repeat([]byte{' '}, termMsgJust-length))
	}
	for _, a := range h.attrs {
		h.writeAttr(b, r.Level, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(b, r.Level, a)
		return true
	})
	b.WriteByte('\n')
}

func (h *TerminalHandler) writeAttr(b *bytes.Buffer, lvl slog.Level, a slog.Attr) {
	b.WriteByte(' ')
	if color := levelColor(lvl); h.useColor && color > 0 {
		fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m=", color, a.Key)
	} else {
		b.WriteString(a.Key)
		b.WriteByte('=')
	}
	b.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return escapeString(v.String())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	}
	switch x := v.Any().(type) {
	case nil:
		return "<nil>"
	case error:
		return escapeString(x.Error())
	case fmt.Stringer:
		return escapeString(x.String())
	default:
		return escapeString(fmt.Sprintf("%+v", x))
	}
}

// escapeString quotes s when it is empty or contains spaces, quotes, '=' or
// control characters.
func escapeString(s string) string {
	if s == "" || strings.ContainsAny(s, " =\"\t\r\n") || strings.IndexFunc(s, func(r rune) bool { return r < ' ' }) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

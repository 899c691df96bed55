package log

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	timeFormat        = "2006-01-02T15:04:05-0700"
	termTimeFormat    = "01-02|15:04:05.000"
	termMsgJust       = 40 // message column width when attributes follow
	termCtxMaxPadding = 40 // widest value that still gets padded
)

var spaces = []byte(strings.Repeat(" ", termMsgJust))

// TerminalStringer is implemented by values that have a compact rendering
// for terminal output, e.g. shortened identifiers.
type TerminalStringer interface {
	TerminalString() string
}

var levelColors = map[slog.Level]string{
	LevelCrit:  "\x1b[35m",
	LevelError: "\x1b[31m",
	LevelWarn:  "\x1b[33m",
	LevelInfo:  "\x1b[32m",
	LevelDebug: "\x1b[36m",
	LevelTrace: "\x1b[34m",
}

func (h *TerminalHandler) format(buf []byte, r slog.Record) []byte {
	var color string
	if h.useColor {
		color = levelColors[r.Level]
	}
	b := bytes.NewBuffer(buf)
	if color != "" {
		b.WriteString(color)
		b.WriteString(LevelAlignedString(r.Level))
		b.WriteString("\x1b[0m")
	} else {
		b.WriteString(LevelAlignedString(r.Level))
	}
	b.WriteString(" [")
	b.WriteString(r.Time.Format(termTimeFormat))
	b.WriteString("] ")
	if src := source(r); src != "" {
		b.WriteString(src)
		b.WriteByte(' ')
	}
	msg := escapeMessage(r.Message)
	b.WriteString(msg)

	nattrs := len(h.attrs) + r.NumAttrs()
	if n := utf8.RuneCountInString(msg); nattrs > 0 && n < termMsgJust {
		b.Write(spaces[:termMsgJust-n])
	}
	i := 0
	emit := func(a slog.Attr) bool {
		i++
		h.writeAttr(b, a, color, i == nattrs)
		return true
	}
	for _, a := range h.attrs {
		emit(a)
	}
	r.Attrs(emit)
	b.WriteByte('\n')
	return b.Bytes()
}

func (h *TerminalHandler) writeAttr(b *bytes.Buffer, a slog.Attr, color string, last bool) {
	b.WriteByte(' ')
	if color != "" {
		b.WriteString(color)
		b.WriteString(escapeString(a.Key))
		b.WriteString("\x1b[0m=")
	} else {
		b.WriteString(escapeString(a.Key))
		b.WriteByte('=')
	}
	val := FormatSlogValue(a.Value)
	n := utf8.RuneCountInString(val)
	pad := h.padding[a.Key]
	if pad < n && n <= termCtxMaxPadding {
		pad = n
		h.padding[a.Key] = pad
	}
	b.WriteString(val)
	if !last && pad > n {
		b.Write(spaces[:pad-n])
	}
}

// FormatSlogValue renders an attribute value for the terminal.
func FormatSlogValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return escapeString(v.String())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(timeFormat)
	}
	value := v.Resolve().Any()
	if isNil(value) {
		return "<nil>"
	}
	switch x := value.(type) {
	case error:
		return escapeString(x.Error())
	case TerminalStringer:
		return escapeString(x.TerminalString())
	case fmt.Stringer:
		return escapeString(x.String())
	case time.Duration:
		return x.String()
	}
	return escapeString(fmt.Sprintf("%+v", value))
}

// escapeString quotes s if it contains characters that would break the
// key=value layout.
func escapeString(s string) string {
	needsQuoting := s == ""
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' || r > '~' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return s
	}
	return strconv.Quote(s)
}

// escapeMessage only quotes messages containing control characters, spaces
// are fine in the message column.
func escapeMessage(s string) string {
	for _, r := range s {
		if r < ' ' && r != '\t' || r == 0x7f {
			return strconv.Quote(s)
		}
	}
	return s
}

// shortFile trims a source path down to its last directory and file name.
func shortFile(path string) string {
	dir, file := filepath.Split(path)
	return filepath.Join(filepath.Base(dir), file)
}

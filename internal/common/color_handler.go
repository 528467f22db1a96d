package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"
)

// ANSI color codes
const (
	Reset   = "\033[0m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"
)

// contextKeys are the logger context attributes (see WithComponent,
// WithStage, WithRun) rendered as a bracketed prefix instead of key=value.
var contextKeys = []string{"component", "stage", "run"}

// statusColors colors run, stage and artifact states wherever they appear
// as a whole attribute value.
var statusColors = map[string]string{
	"succeeded": Green,
	"approved":  Green,
	"produced":  Green,
	"ok":        Green,
	"failed":    Red,
	"rejected":  Red,
	"skipped":   Yellow,
	"pending":   Yellow,
	"declared":  Yellow,
}

// ColorHandler is a slog.Handler writing one line per record for terminals:
//
//	2026-03-01T09:00:00Z [INFO ] [runner Build run=7c1e] stage finished status="succeeded"
//
// Groups are joined into the prefix ("[runner.approval]").
type ColorHandler struct {
	opts     *slog.HandlerOptions
	mu       *sync.Mutex
	writer   io.Writer
	prefix   map[string]string
	attrs    []slog.Attr
	groups   []string
	masker   *Masker
	useColor bool
}

// NewColorHandler creates a new color handler
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorHandler{
		opts:     opts,
		mu:       &sync.Mutex{},
		writer:   w,
		useColor: shouldUseColor(w),
		masker:   NewMasker(),
	}
}

// shouldUseColor is true only for character devices on non-windows hosts.
func shouldUseColor(w io.Writer) bool {
	if runtime.GOOS == "windows" || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	if !r.Time.IsZero() {
		sb.WriteString(h.colorize(Gray, r.Time.UTC().Format(time.RFC3339)))
		sb.WriteByte(' ')
	}
	sb.WriteString(h.formatLevel(r.Level))
	sb.WriteByte(' ')
	if p := h.contextPrefix(); p != "" {
		sb.WriteString(h.colorize(Cyan, p))
		sb.WriteByte(' ')
	}
	sb.WriteString(h.colorize(White, r.Message))

	attrs := make([]slog.Attr, 0, r.NumAttrs()+len(h.attrs))
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = appendFlattened(attrs, "", a)
		return true
	})
	for _, attr := range h.maskAttributes(attrs) {
		sb.WriteByte(' ')
		sb.WriteString(h.colorize(Cyan, attr.Key))
		sb.WriteByte('=')
		sb.WriteString(h.formatValue(attr.Value))
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// contextPrefix renders groups and context attributes, e.g. "[runner Build run=7c1e]".
func (h *ColorHandler) contextPrefix() string {
	var parts []string
	if len(h.groups) > 0 {
		parts = append(parts, strings.Join(h.groups, "."))
	}
	for _, k := range contextKeys {
		v, ok := h.prefix[k]
		if !ok {
			continue
		}
		if k == "run" {
			v = "run=" + shortID(v)
		}
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// appendFlattened resolves LogValuers (such as masked secrets) and expands
// groups into dotted keys.
func appendFlattened(dst []slog.Attr, prefix string, a slog.Attr) []slog.Attr {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			dst = appendFlattened(dst, key, ga)
		}
		return dst
	}
	return append(dst, slog.Attr{Key: key, Value: a.Value})
}

func (h *ColorHandler) formatLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.colorize(Red, "[ERROR]")
	case level >= slog.LevelWarn:
		return h.colorize(Yellow, "[WARN ]")
	case level >= slog.LevelInfo:
		return h.colorize(Green, "[INFO ]")
	default:
		return h.colorize(Gray, "[DEBUG]")
	}
}

func (h *ColorHandler) formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		str := v.String()
		color, ok := statusColors[strings.ToLower(str)]
		if !ok {
			color = White
		}
		return h.colorize(color, fmt.Sprintf("%q", str))
	case slog.KindInt64:
		return h.colorize(Magenta, fmt.Sprintf("%d", v.Int64()))
	case slog.KindUint64:
		return h.colorize(Magenta, fmt.Sprintf("%d", v.Uint64()))
	case slog.KindFloat64:
		return h.colorize(Magenta, fmt.Sprintf("%g", v.Float64()))
	case slog.KindBool:
		if v.Bool() {
			return h.colorize(Green, "true")
		}
		return h.colorize(Red, "false")
	case slog.KindDuration:
		return h.colorize(Yellow, v.Duration().Round(time.Millisecond).String())
	case slog.KindTime:
		return h.colorize(Gray, v.Time().UTC().Format(time.RFC3339))
	default:
		if err, ok := v.Any().(error); ok {
			return h.colorize(Red, fmt.Sprintf("%q", err.Error()))
		}
		return h.colorize(White, v.String())
	}
}

func (h *ColorHandler) colorize(color, text string) string {
	if !h.useColor {
		return text
	}
	return color + text + Reset
}

func (h *ColorHandler) maskAttributes(attrs []slog.Attr) []slog.Attr {
	if h.masker == nil || !h.masker.IsEnabled() {
		return attrs
	}
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		switch {
		case h.masker.IsSensitiveKey(attr.Key):
			masked[i] = slog.String(attr.Key, MaskedValue)
		case attr.Value.Kind() == slog.KindString:
			masked[i] = slog.String(attr.Key, h.masker.MaskString(attr.Value.String()))
		case attr.Value.Kind() == slog.KindAny:
			if err, ok := attr.Value.Any().(error); ok {
				masked[i] = slog.String(attr.Key, h.masker.MaskString(err.Error()))
				continue
			}
			masked[i] = attr
		default:
			masked[i] = attr
		}
	}
	return masked
}

// WithAttrs returns a new handler carrying attrs. Context keys move into the prefix.
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr{}, h.attrs...)
	nh.prefix = make(map[string]string, len(h.prefix))
	for k, v := range h.prefix {
		nh.prefix[k] = v
	}
	for _, a := range attrs {
		if slices.Contains(contextKeys, a.Key) && a.Value.Kind() == slog.KindString {
			nh.prefix[a.Key] = a.Value.String()
			continue
		}
		nh.attrs = appendFlattened(nh.attrs, "", a)
	}
	return &nh
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.groups = append(append([]string{}, h.groups...), name)
	return &nh
}

func (h *ColorHandler) SetMasker(masker *Masker) {
	h.masker = masker
}

func (h *ColorHandler) SetColorEnabled(enabled bool) {
	h.useColor = enabled
}

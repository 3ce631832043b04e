package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel converts a string to a Level. The empty string maps to Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("unsupported log level %q", s)
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Options controls output rendering for a Logger built by New.
type Options struct {
	Level Level
	JSON  bool
}

var defaultLogger Logger = New(os.Stderr, Options{Level: Info})

// Default returns the process-wide logger.
func Default() Logger { return defaultLogger }

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger { return New(io.Discard, Options{Level: Error + 1}) }

type logger struct {
	opts  Options
	bound []Field
	out   *log.Logger
}

// New constructs a Logger writing to out with the given options.
func New(out io.Writer, opts Options) Logger {
	return &logger{
		opts: opts,
		out:  log.New(out, "", log.LstdFlags),
	}
}

func (l *logger) With(fields ...Field) Logger {
	child := &logger{opts: l.opts, out: l.out}
	child.bound = append(append([]Field{}, l.bound...), fields...)
	return child
}

func (l *logger) Debug(msg string, fields ...Field) { l.emit(Debug, msg, fields) }
func (l *logger) Info(msg string, fields ...Field)  { l.emit(Info, msg, fields) }
func (l *logger) Warn(msg string, fields ...Field)  { l.emit(Warn, msg, fields) }
func (l *logger) Error(msg string, fields ...Field) { l.emit(Error, msg, fields) }

func (l *logger) emit(level Level, msg string, fields []Field) {
	if level < l.opts.Level {
		return
	}
	all := fields
	if len(l.bound) > 0 {
		all = append(append([]Field{}, l.bound...), fields...)
	}
	if l.opts.JSON {
		l.out.Print(renderJSON(level, msg, all))
		return
	}
	l.out.Print(renderText(level, msg, all))
}

func renderText(level Level, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

func renderJSON(level Level, msg string, fields []Field) string {
	payload := map[string]any{
		"time":  time.Now().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		payload[f.Key] = f.Value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","msg":"marshal log payload: %v"}`, err)
	}
	return string(data)
}

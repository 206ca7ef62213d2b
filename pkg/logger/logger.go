package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger that can also fan error lines out to a Kafka
// collector and a Sentry tracker.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
	tracker   *Tracker
}

type Config struct {
	Level      string // debug, info, warn, error, fatal, panic
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	zerolog.DurationFieldUnit = time.Millisecond

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(callerSkip).
		Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	return f, nil
}

// Nop discards everything. Used by tests and as the nil-safe default.
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// With returns a child logger that carries fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value())
	}
	return &Logger{zl: ctx.Logger(), collector: l.collector, tracker: l.tracker}
}

// callerSkip points zerolog's caller at the code that called Info/Warn/...
const callerSkip = 4

func (l *Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }

// Error also forwards the line to the collector and the tracker when attached.
func (l *Logger) Error(msg string, fields ...Field) {
	l.write(zerolog.ErrorLevel, msg, fields)
	if l.collector != nil {
		l.collector.AddLog("error", msg, fieldMap(fields), caller(1))
	}
	if l.tracker != nil {
		l.tracker.capture(msg, fields)
	}
}

func (l *Logger) write(level zerolog.Level, msg string, fields []Field) {
	e := l.zl.WithLevel(level)
	if e == nil {
		return
	}
	for _, f := range fields {
		f.addTo(e)
	}
	e.Msg(msg)
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value()
	}
	return m
}

// caller renders file:line relative to the module root; skip 0 is the
// function calling caller.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	if i := strings.LastIndex(file, "/Consilium/"); i >= 0 {
		file = file[i+len("/Consilium/"):]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// AddCollector starts shipping error lines in batches; it replaces any
// collector already attached.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

func (l *Logger) SetTracker(t *Tracker) { l.tracker = t }

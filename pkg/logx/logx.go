package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and the sinks.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig enables the JSON file sink.
type FileConfig struct {
	Enabled bool
	Path    string
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field adds one key/value pair to an event. Helpers below cover the
// types this codebase logs; the console sink renders them as key=value,
// the file sink keeps them structured.
type Field func(e *zerolog.Event)

func String(k, v string) Field      { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field     { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Bool(k string, v bool) Field   { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Any(k string, v any) Field     { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

// Err attaches err under the "err" key. Nil is a no-op.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger emits events to its Service's sinks. The zero value discards
// everything; With returns a copy carrying extra fixed fields.
type Logger struct {
	svc    *Service
	fields []Field
}

// nopSvc backs Nop loggers. It is a real Service so IsZero-based
// defaulting does not replace a deliberately silent logger.
var nopSvc = func() *Service {
	s := &Service{}
	s.live.Store(zerolog.Nop())
	return s
}()

// Nop returns a logger that discards everything.
func Nop() Logger { return Logger{svc: nopSvc} }

// IsZero reports whether the logger was never initialized. Components
// use it to substitute Nop for an absent logger.
func (l Logger) IsZero() bool { return l.svc == nil && len(l.fields) == 0 }

// With returns a logger whose events all carry the given fields.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return Logger{svc: l.svc, fields: merged}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if l.svc == nil {
		return
	}
	zl := l.svc.root()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if c := shortCaller(3); c != "" {
		e.Str(zerolog.CallerFieldName, c)
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// shortCaller renders the call site as file:line, without the package
// path noise a full caller field brings.
func shortCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Service owns the sinks. It builds the root zerolog logger from Config
// and hands out live Logger values; Close releases the file sink.
type Service struct {
	mu   sync.Mutex
	live atomic.Value // zerolog.Logger
	file *os.File
}

// New creates the logging service and a root logger writing through it.
func New(cfg Config) (*Service, Logger) {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	s := &Service{}
	s.configure(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Service) configure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "pricealert.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			// The logger is not up yet, so this goes straight to stderr.
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.live.Store(zl)
}

func (s *Service) root() zerolog.Logger {
	if zl, ok := s.live.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

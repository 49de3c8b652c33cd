package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger carrying the service name it was built for.
type Logger struct {
	zl      zerolog.Logger
	service string
}

var global *Logger

// Init builds the process-wide logger from cfg.
func Init(cfg *Config, serviceName string) {
	cfg.ApplyDefaults()
	global = New(cfg, serviceName)
}

// New builds a logger. Unknown levels fall back to info.
func New(cfg *Config, serviceName string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		out = consoleWriter(out, cfg.NoColor, serviceName)
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	if serviceName != "" {
		ctx = ctx.Str(FieldService, serviceName)
	}
	return &Logger{zl: ctx.Logger(), service: serviceName}
}

// NewWithWriter returns a JSON logger on w without timestamps.
func NewWithWriter(w io.Writer, level string, serviceName string) *Logger {
	return &Logger{zl: zerolog.New(w).Level(parseLevel(level)), service: serviceName}
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// GetGlobalLogger returns the logger installed by Init, or a console logger
// at info level when Init was never called.
func GetGlobalLogger() *Logger {
	if global == nil {
		cfg := &Config{}
		cfg.ApplyDefaults()
		global = New(cfg, "meshprobe")
	}
	return global
}

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(l *Logger) { global = l }

// Info logs on the global logger.
func Info(msg string, fields ...map[string]interface{}) { GetGlobalLogger().Info(msg, fields...) }

// WithComponent tags the global logger with a component name.
func WithComponent(name string) *Logger { return GetGlobalLogger().WithComponent(name) }

type ctxKey struct{}

// ContextWithResolutionID stores the id of an in-flight resolution in ctx.
func ContextWithResolutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ResolutionIDFromContext returns the id set by ContextWithResolutionID.
func ResolutionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithContext adds the resolution id from ctx, if any. Without one the
// receiver itself is returned.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := ResolutionIDFromContext(ctx); id != "" {
		return l.derive(l.zl.With().Str(FieldResolutionID, id))
	}
	return l
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.zl.With().Str(FieldComponent, name))
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(l.zl.With().Fields(fields))
}

func (l *Logger) derive(c zerolog.Context) *Logger {
	return &Logger{zl: c.Logger(), service: l.service}
}

// Zerolog exposes the underlying logger, e.g. for gin mode selection.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Error(), msg, fields)
}

func emit(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, f := range fields {
		e.Fields(f)
	}
	e.Msg(msg)
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

var shortLevels = map[string]string{
	"trace": "TRC", "debug": "DBG", "info": "INF", "warn": "WRN", "error": "ERR", "fatal": "FTL",
}

const (
	ansiReset = "\033[0m"
	ansiBlue  = "\033[34m"
)

var levelColors = map[string]string{
	"debug": "\033[36m", "info": "\033[32m", "warn": "\033[33m", "error": "\033[31m", "fatal": "\033[35m",
}

// consoleWriter prints "[SVC][LVL] message key:value" lines, where SVC is the
// first three letters of the service name.
func consoleWriter(out io.Writer, noColor bool, serviceName string) zerolog.ConsoleWriter {
	paint := func(color, s string) string {
		if noColor || color == "" {
			return s
		}
		return color + s + ansiReset
	}
	prefix := ""
	if len(serviceName) >= 3 {
		prefix = paint(ansiBlue, "["+strings.ToUpper(serviceName[:3])+"]")
	}
	return zerolog.ConsoleWriter{
		Out:          out,
		NoColor:      noColor,
		TimeFormat:   "15:04:05",
		PartsExclude: []string{zerolog.CallerFieldName},
		FormatLevel: func(i interface{}) string {
			lvl := fmt.Sprint(i)
			tag, ok := shortLevels[lvl]
			if !ok {
				tag = strings.ToUpper(lvl)
			}
			return prefix + paint(levelColors[lvl], "["+tag+"]")
		},
		FormatFieldName: func(i interface{}) string { return fmt.Sprint(i) + ":" },
	}
}

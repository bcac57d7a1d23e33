// Package log wraps a process-wide zerolog logger with leveled helpers.
package log

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"
)

var (
	logger zerolog.Logger
	mu     sync.RWMutex
)

func init() {
	// LOG_LEVEL lets tests raise verbosity without touching code.
	Init(cmp.Or(os.Getenv("LOG_LEVEL"), LogLevelError), "stderr", nil)
}

// Logger returns a copy of the global logger.
func Logger() *zerolog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	return &l
}

// errorLevelWriter only forwards warnings and errors.
type errorLevelWriter struct {
	io.Writer
}

func (w *errorLevelWriter) Write(p []byte) (int, error) {
	return w.Writer.Write(p)
}

func (w *errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// Init configures the global logger. The output may be "stdout", "stderr",
// a file path, or any of those suffixed with ",json" to skip the console
// formatter. If errorOutput is not nil, warnings and errors are also copied
// there without colors.
func Init(level, output string, errorOutput io.Writer) {
	lvl, err := parseLevel(level)
	if err != nil {
		panic(err)
	}
	jsonFormat := false
	if target, ok := strings.CutSuffix(output, ",json"); ok {
		output, jsonFormat = target, true
	}

	var out io.Writer
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			panic(fmt.Sprintf("cannot create log output: %v", err))
		}
		out = f
	}
	if !jsonFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: RFC3339Milli}
	}
	if errorOutput != nil {
		out = zerolog.MultiLevelWriter(out, &errorLevelWriter{zerolog.ConsoleWriter{
			Out:        errorOutput,
			TimeFormat: RFC3339Milli,
			NoColor:    true,
		}})
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	// skip this package's wrappers when reporting the caller
	zerolog.CallerSkipFrameCount = 3
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return fmt.Sprintf("%s/%s:%d", path.Base(path.Dir(file)), path.Base(file), line)
	}
	l := zerolog.New(out).With().Timestamp().Caller().Logger().Level(lvl)

	mu.Lock()
	logger = l
	mu.Unlock()
	l.Debug().Msgf("logger initialized at level %s with output %s", level, output)
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel, nil
	case LogLevelInfo:
		return zerolog.InfoLevel, nil
	case LogLevelWarn:
		return zerolog.WarnLevel, nil
	case LogLevelError:
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("invalid log level: %q", level)
}

// Level returns the current log level name.
func Level() string {
	return Logger().GetLevel().String()
}

// Debug sends a debug level log message
func Debug(args ...any) {
	l := Logger()
	if l.GetLevel() > zerolog.DebugLevel {
		return
	}
	l.Debug().Msg(fmt.Sprint(args...))
}

// Info sends an info level log message
func Info(args ...any) {
	Logger().Info().Msg(fmt.Sprint(args...))
}

// Warn sends a warn level log message
func Warn(args ...any) {
	Logger().Warn().Msg(fmt.Sprint(args...))
}

// Error sends an error level log message
func Error(args ...any) {
	Logger().Error().Msg(fmt.Sprint(args...))
}

// Fatal logs the message with a stack trace and exits.
func Fatal(args ...any) {
	Logger().Fatal().Msg(fmt.Sprint(args...) + "\n" + string(debug.Stack()))
	panic("unreachable")
}

func Debugf(template string, args ...any) {
	Logger().Debug().Msgf(template, args...)
}

func Infof(template string, args ...any) {
	Logger().Info().Msgf(template, args...)
}

func Warnf(template string, args ...any) {
	Logger().Warn().Msgf(template, args...)
}

func Errorf(template string, args ...any) {
	Logger().Error().Msgf(template, args...)
}

func Fatalf(template string, args ...any) {
	Logger().Fatal().Msgf(template+"\n"+string(debug.Stack()), args...)
}

// Debugw sends a debug level log message with key-value pairs.
func Debugw(msg string, keyvalues ...any) {
	Logger().Debug().Fields(keyvalues).Msg(msg)
}

// Infow sends an info level log message with key-value pairs.
func Infow(msg string, keyvalues ...any) {
	Logger().Info().Fields(keyvalues).Msg(msg)
}

// Warnw sends a warning level log message with key-value pairs.
func Warnw(msg string, keyvalues ...any) {
	Logger().Warn().Fields(keyvalues).Msg(msg)
}

// Errorw logs err together with a message.
func Errorw(err error, msg string) {
	Logger().Error().Err(err).Msg(msg)
}

// Monitor logs a set of fields at info level, for periodic reports.
func Monitor(msg string, fields map[string]any) {
	Logger().Info().Fields(fields).Msg(msg)
}

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base zerolog.Logger
)

func init() {
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures the process logger. Format is "json" or "console".
func Init(level, format string) {
	InitWithWriter(level, format, os.Stderr)
}

func InitWithWriter(level, format string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(level))

	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	base = zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug(msg string, keyvals ...any) {
	write(zerolog.DebugLevel, msg, keyvals)
}

func Info(msg string, keyvals ...any) {
	write(zerolog.InfoLevel, msg, keyvals)
}

func Warn(msg string, keyvals ...any) {
	write(zerolog.WarnLevel, msg, keyvals)
}

func Error(msg string, keyvals ...any) {
	write(zerolog.ErrorLevel, msg, keyvals)
}

func write(level zerolog.Level, msg string, keyvals []any) {
	mu.RLock()
	l := base
	mu.RUnlock()

	e := l.WithLevel(level)
	if e == nil {
		return
	}
	addFields(e, keyvals)
	e.Msg(msg)
}

// addFields accepts alternating key/value pairs. A bare error or an unpaired
// trailing value is logged under "error" or "arg<N>".
func addFields(e *zerolog.Event, keyvals []any) {
	for i := 0; i < len(keyvals); {
		if err, ok := keyvals[i].(error); ok {
			e.AnErr("error", err)
			i++
			continue
		}
		key, ok := keyvals[i].(string)
		if !ok || i+1 >= len(keyvals) {
			e.Interface(fmt.Sprintf("arg%d", i), keyvals[i])
			i++
			continue
		}
		switch v := keyvals[i+1].(type) {
		case error:
			e.AnErr(key, v)
		case fmt.Stringer:
			e.Str(key, v.String())
		default:
			e.Interface(key, v)
		}
		i += 2
	}
}

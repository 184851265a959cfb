package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a structured JSON logger for one component.
// Level comes from STABLE_LOG_LEVEL (default info). When STABLE_LOG_FILE is
// set the output is also written to a rotating file.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("STABLE_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(logOutput(os.Getenv("STABLE_LOG_FILE"))).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

var (
	fileWritersMu sync.Mutex
	fileWriters   = map[string]*lumberjack.Logger{}
)

// logOutput returns stdout, or stdout teed into a rotating file. Writers are
// shared per path so every component rotates the same file.
func logOutput(path string) io.Writer {
	if path == "" {
		return os.Stdout
	}
	fileWritersMu.Lock()
	defer fileWritersMu.Unlock()
	fw, ok := fileWriters[path]
	if !ok {
		fw = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		fileWriters[path] = fw
	}
	return zerolog.MultiLevelWriter(os.Stdout, fw)
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

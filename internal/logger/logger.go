// Package logger provides leveled logging for the binaries and the
// screening facade.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config string to a Level. Unknown values map to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger *log.Logger
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Init initializes the default logger with the specified level and format.
// Text format adds the caller's file and line.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}

	mu.Lock()
	defer mu.Unlock()
	defaultLogger = &Logger{
		level:  ParseLevel(level),
		logger: log.New(os.Stderr, "", flags),
	}
}

// SetOutput redirects the default logger, initializing it at info level if
// Init has not run.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = &Logger{level: InfoLevel, logger: log.New(w, "", log.LstdFlags)}
		return
	}
	defaultLogger.logger.SetOutput(w)
}

func output(l Level, format string, args ...interface{}) {
	mu.RLock()
	d := defaultLogger
	mu.RUnlock()
	if d == nil || d.level > l {
		return
	}
	msg := fmt.Sprintf("["+l.String()+"] "+format, args...)
	_ = d.logger.Output(3, msg)
}

func Debug(format string, args ...interface{}) {
	output(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	output(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	output(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	output(ErrorLevel, format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	mu.RLock()
	d := defaultLogger
	mu.RUnlock()
	if d != nil {
		_ = d.logger.Output(2, msg)
	} else {
		log.Print(msg)
	}
	os.Exit(1)
}

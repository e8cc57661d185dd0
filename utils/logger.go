// utils/logger.go
package utils

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
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, zerolog.InfoLevel, false)
)

func newLogger(w io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// InitLogger configures the process-wide logger. Silent discards all output,
// which is what the tests use.
func InitLogger(verbose bool, silent bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := io.Writer(os.Stdout)
	if silent {
		out = io.Discard
		level = zerolog.Disabled
	}
	SetLogger(newLogger(out, level, false))
}

// Configure builds the logger from a textual level and format ("console" or "json").
func Configure(level string, format string, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	SetLogger(newLogger(w, lvl, format == "console"))
	return nil
}

// GetLogger returns the current process-wide logger.
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the process-wide logger.
func SetLogger(l zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	l := GetLogger()
	return l.With().Str("component", name).Logger()
}

// LogWarn logs a warning message
func LogWarn(format string, args ...interface{}) {
	l := GetLogger()
	l.Warn().Msgf(format, args...)
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	l := GetLogger()
	l.Error().Msgf(format, args...)
}

// PrintStartupMessage prints a formatted startup banner for a long-running service.
func PrintStartupMessage(service string, listen string) {
	fmt.Println("---------------------------------------------------")
	fmt.Printf("| %-47s |\n", service+" started")
	fmt.Printf("| Listen: %-39s |\n", listen)
	fmt.Println("---------------------------------------------------")
}

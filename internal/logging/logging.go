package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const filePermission = 0o644

var once sync.Once

func getLogOutput(logFilePath string) *os.File {
	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePermission)
		if err == nil {
			return file
		}

		slog.Error("failed to open log file, defaulting to stdout", "error", err)
	}

	return os.Stdout
}

// InitLogger installs the process-wide slog default handler. Safe to call
// more than once; only the first call takes effect.
func InitLogger(cfg *Config) {
	once.Do(func() {
		var logLevel slog.Level

		logOutput := getLogOutput(cfg.LogFile)

		if err := logLevel.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
			slog.Warn("invalid log level, defaulting to INFO", "error", err)
			logLevel = slog.LevelInfo
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: logLevel})))
	})
}

// Logger returns a component-scoped logger derived from the process-wide
// default.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

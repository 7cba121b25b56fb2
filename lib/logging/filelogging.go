package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

// Logger logs to stdout unless a log file path is configured, in which case
// every process start gets its own timestamped file.
func Logger(logFilePath, level string) *lecho.Logger {
	logger := lecho.New(
		os.Stdout,
		lecho.WithLevel(ParseLevel(level)),
		lecho.WithTimestamp(),
	)
	if logFilePath != "" {
		file, err := GetLoggingFile(logFilePath, time.Now())
		if err != nil {
			logger.Errorf("failed to create logging file, logging to stdout: %v", err)
			return logger
		}
		logger.SetOutput(file)
	}

	return logger
}

// ParseLevel maps LOG_LEVEL to a gommon level. Unknown values fall back to debug.
func ParseLevel(level string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return log.INFO
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	}
	return log.DEBUG
}

func LogFileName(path string, now time.Time) string {
	stamp := now.Format("2006-01-02-150405")
	extension := filepath.Ext(path)
	if extension != "" {
		return strings.TrimSuffix(path, extension) + "-" + stamp + extension
	}
	return path + "-" + stamp + ".log"
}

func GetLoggingFile(path string, now time.Time) (*os.File, error) {
	return os.OpenFile(LogFileName(path, now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
}

package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
)

func TestLogFileName(t *testing.T) {
	now := time.Date(2024, 6, 1, 13, 4, 5, 0, time.UTC)
	assert.Equal(t, "/var/log/payhub-2024-06-01-130405.log", LogFileName("/var/log/payhub.log", now))
	assert.Equal(t, "/var/log/payhub-2024-06-01-130405.log", LogFileName("/var/log/payhub", now))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.INFO, ParseLevel("INFO"))
	assert.Equal(t, log.WARN, ParseLevel("warning"))
	assert.Equal(t, log.ERROR, ParseLevel(" error "))
	assert.Equal(t, log.OFF, ParseLevel("off"))
	assert.Equal(t, log.DEBUG, ParseLevel(""))
	assert.Equal(t, log.DEBUG, ParseLevel("verbose"))
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger := Logger(filepath.Join(dir, "payhub.log"), "info")
	logger.Info("hello")

	files, err := filepath.Glob(filepath.Join(dir, "payhub-*.log"))
	assert.NoError(t, err)
	assert.Len(t, files, 1)
}

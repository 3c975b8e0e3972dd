package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerDefaultsToText(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Output: &buf})
	l.Info("hello", "device", "8,0")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "device=8,0")
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Output: &buf, JSON: true})
	l.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelWarn, Output: &buf})
	l.Debug("should not appear")
	l.Info("also should not appear")
	assert.Empty(t, buf.String())
	l.Warn("this appears")
	assert.Contains(t, buf.String(), "this appears")
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	Info("via package-level helper")
	assert.Contains(t, buf.String(), "via package-level helper")
}

func TestWithAttachesAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelInfo, Output: &buf})
	l.With("device", "8,0").Info("attached")
	assert.Contains(t, buf.String(), "device=8,0")
}

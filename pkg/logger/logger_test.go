package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ravendb/ravendb.go/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Info("Test", "session", 7)
	// Get Stats After
	require.Contains(t, buff.String(), "Test")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, float64(7), line["session"])
}

func TestLogLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).WithLevel("warn").Make()
	require.NoError(t, err)

	templogger.Debug("hidden")
	templogger.Info("hidden")
	require.Equal(t, 0, buff.Len())

	templogger.Warn("shown")
	require.Contains(t, buff.String(), "shown")
}

func TestLogOddArgs(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.New().FromBuffer(buff).Make()
	require.NoError(t, err)

	templogger.Error("odd", "dangling")
	require.Contains(t, buff.String(), "!BADKEY")
}

func TestNop(t *testing.T) {
	l := logger.Nop()
	l.Error("nothing")
	l.Warn("nothing")
	l.Info("nothing")
	l.Debug("nothing")
}

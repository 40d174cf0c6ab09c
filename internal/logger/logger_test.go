package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"warning", WARN, false},
		{" error ", ERROR, false},
		{"none", SILENT, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONLoggerCarriesModule(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(DEBUG, &buf)

	l.Warn("Transport", "reconnect %d/%d", 2, 5)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Transport", entry["module"])
	assert.Equal(t, "reconnect 2/5", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(WARN, &buf)

	l.Debug("Pacer", "dropped")
	l.Info("Pacer", "dropped")
	assert.Zero(t, buf.Len())

	l.Error("Pacer", "kept")
	assert.Contains(t, buf.String(), "kept")

	buf.Reset()
	l.SetLevel(SILENT)
	l.Error("Pacer", "silenced")
	assert.Zero(t, buf.Len())
	assert.Equal(t, SILENT, l.GetLevel())
}

func TestConsoleLoggerWritesPlainText(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false)

	l.Info("Session", "started %s", "abc")

	out := buf.String()
	assert.True(t, strings.Contains(out, "started abc"), out)
	assert.Contains(t, out, "Session")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		records = append(records, rec)
	}
	return records
}

func TestNew_JSONLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		wantMsgs []string
	}{
		{name: "debug", level: "debug", wantMsgs: []string{"claimed", "completed", "retrying", "dead"}},
		{name: "info", level: "info", wantMsgs: []string{"completed", "retrying", "dead"}},
		{name: "warning alias", level: "warning", wantMsgs: []string{"retrying", "dead"}},
		{name: "upper case", level: "ERROR", wantMsgs: []string{"dead"}},
		{name: "unknown falls back to info", level: "verbose", wantMsgs: []string{"completed", "retrying", "dead"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(&Config{Level: tt.level, Format: "json", writer: &buf})
			require.NoError(t, err)

			l.Debug("claimed")
			l.Info("completed")
			l.Warn("retrying")
			l.Error("dead")

			var got []string
			for _, rec := range decodeLines(t, &buf) {
				got = append(got, rec["msg"].(string))
			}
			assert.Equal(t, tt.wantMsgs, got)
		})
	}
}

func TestNew_ServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Format: "json", Service: "worker-service", writer: &buf})
	require.NoError(t, err)

	l.Info("job finished", slog.String("job_id", "j1"))

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "worker-service", records[0]["service"])
	assert.Equal(t, "j1", records[0]["job_id"])
}

func TestNew_SourceLocation(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Format: "json", EnableSource: true, writer: &buf})
	require.NoError(t, err)

	l.Info("with source")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Contains(t, records[0], slog.SourceKey)
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Format: "console", TimeFormat: "15:04", writer: &buf})
	require.NoError(t, err)

	l.Info("tick finished", slog.Int("due", 3))

	out := buf.String()
	assert.Contains(t, out, "tick finished")
	assert.Contains(t, out, "due")
	assert.Contains(t, out, "3")
}

func TestNew_UnknownFormatUsesJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Format: "logfmt", writer: &buf})
	require.NoError(t, err)

	l.Info("fallback")
	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketsync.log")

	l, err := New(&Config{Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("written to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_FileOutputError(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestLogger_CloseStdout(t *testing.T) {
	l, err := New(&Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

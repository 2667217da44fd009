package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitetrust/sitetrust/internal/policy"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, LevelWarn)

	log.Debug("d", "debug", nil)
	log.Info("i", "info", nil)
	log.Warn("w", "warn", map[string]interface{}{"k": "v"})
	log.Error("e", "error", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev GenericEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "w", ev.Event)
	assert.Equal(t, "warn", ev.Level)
	assert.Equal(t, "v", ev.Data["k"])
}

func TestLogger_LogAnalysis(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, LevelInfo)

	log.LogAnalysis(&policy.Report{
		RequestID: "req-1",
		Target:    "http://phishing-test.tk/",
		Hostname:  "phishing-test.tk",
		Scale:     "100pt",
		Score:     20,
		Label:     "Risky",
		Tags:      []string{"a", "b"},
		Reachable: true,
		Degraded:  true,
		Failures:  []string{"virustotal"},
	}, 1500*time.Millisecond)

	var ev AnalysisEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "analysis", ev.Event)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, 20, ev.Score)
	assert.Equal(t, 2, ev.Tags)
	assert.Equal(t, int64(1500), ev.DurationMs)
	assert.Equal(t, []string{"virustotal"}, ev.Failures)
}

func TestLogger_LogAnalysisRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, LevelError).LogAnalysis(&policy.Report{}, 0)
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Error("e", "discarded", nil)
	log.LogAnalysis(&policy.Report{}, 0)
}

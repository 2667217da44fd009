package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sitetrust/sitetrust/internal/policy"
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelOrder = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a flag value into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := levelOrder[l]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Logger provides JSON Lines logging
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	level  Level
}

// NewLogger creates a new Logger
func NewLogger(writer io.Writer, level Level) *Logger {
	if writer == nil {
		writer = os.Stderr
	}
	return &Logger{
		writer: writer,
		level:  level,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewLogger(io.Discard, LevelError)
}

// AnalysisEvent is written once per finished analysis.
type AnalysisEvent struct {
	Timestamp  string   `json:"ts"`
	Level      string   `json:"level"`
	Event      string   `json:"event"`
	RequestID  string   `json:"request_id,omitempty"`
	Target     string   `json:"target"`
	Hostname   string   `json:"hostname"`
	Scale      string   `json:"scale"`
	Score      int      `json:"score"`
	Label      string   `json:"label"`
	Tags       int      `json:"tags"`
	Penalties  int      `json:"penalties"`
	Reachable  bool     `json:"reachable"`
	Degraded   bool     `json:"degraded"`
	Failures   []string `json:"failures,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// LogAnalysis logs the outcome of one analysis.
func (l *Logger) LogAnalysis(r *policy.Report, elapsed time.Duration) {
	if r == nil || !l.shouldLog(LevelInfo) {
		return
	}

	l.writeJSON(AnalysisEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      string(LevelInfo),
		Event:      "analysis",
		RequestID:  r.RequestID,
		Target:     r.Target,
		Hostname:   r.Hostname,
		Scale:      r.Scale,
		Score:      r.Score,
		Label:      r.Label,
		Tags:       len(r.Tags),
		Penalties:  len(r.Penalties),
		Reachable:  r.Reachable,
		Degraded:   r.Degraded,
		Failures:   r.Failures,
		DurationMs: elapsed.Milliseconds(),
	})
}

// GenericEvent represents a generic log event
type GenericEvent struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Log logs a generic event
func (l *Logger) Log(level Level, event, message string, data map[string]interface{}) {
	l.writeJSON(GenericEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Event:     event,
		Message:   message,
		Data:      data,
	})
}

// Debug logs a debug event
func (l *Logger) Debug(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelDebug) {
		l.Log(LevelDebug, event, message, data)
	}
}

// Info logs an info event
func (l *Logger) Info(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelInfo) {
		l.Log(LevelInfo, event, message, data)
	}
}

// Warn logs a warning event
func (l *Logger) Warn(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelWarn) {
		l.Log(LevelWarn, event, message, data)
	}
}

// Error logs an error event
func (l *Logger) Error(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelError) {
		l.Log(LevelError, event, message, data)
	}
}

// writeJSON writes one JSON line; concurrent analyses share the writer.
func (l *Logger) writeJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		os.Stderr.WriteString("Failed to marshal log: " + err.Error() + "\n")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(append(data, '\n'))
}

func (l *Logger) shouldLog(level Level) bool {
	return levelOrder[level] >= levelOrder[l.level]
}

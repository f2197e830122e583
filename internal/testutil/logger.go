package testutil

import (
	"strings"
	"sync"

	"dvault/internal/dv"
)

// LogEntry is one captured log call.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger is a dv.Logger that captures every call.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ dv.Logger = (*RecordingLogger)(nil)

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args) }

func (l *RecordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Entries returns the captured entries at level, or all entries when level is empty.
func (l *RecordingLogger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether any entry at level has a message containing substr.
func (l *RecordingLogger) Contains(level, substr string) bool {
	for _, e := range l.Entries(level) {
		if strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

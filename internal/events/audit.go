package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditWriter appends events to a line-delimited JSON log, one event per
// line, monotonically timestamped. The log is the orchestrator's externally
// observable audit trail and is strictly write-only from the control loop's
// perspective.
type AuditWriter struct {
	mu   sync.Mutex
	file *os.File
	last time.Time
}

// NewAuditWriter opens (or creates) the audit log at the given path.
func NewAuditWriter(path string) (*AuditWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditWriter{file: file}, nil
}

// Append writes one event line. Events arriving through a Bus tap are
// already stamped; ids and timestamps are filled in anyway so direct
// appends and logs reopened across runs stay monotonic too.
func (w *AuditWriter) Append(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if !event.Timestamp.After(w.last) {
		event.Timestamp = w.last.Add(time.Microsecond)
	}
	w.last = event.Timestamp

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Drain consumes events from the channel until it closes, appending each to
// the log. Intended to run in its own goroutine against a Bus tap.
func (w *AuditWriter) Drain(ch <-chan Event) {
	for event := range ch {
		// Best effort: a full disk should not take down the control loop.
		_ = w.Append(event)
	}
}

// Close closes the underlying file.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

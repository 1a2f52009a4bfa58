package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readAuditLines(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer file.Close()

	var out []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("audit line is not valid JSON: %v (%s)", err, scanner.Text())
		}
		out = append(out, event)
	}
	return out
}

func TestAuditAppendOneEventPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	writer, err := NewAuditWriter(path)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}
	defer writer.Close()

	if err := writer.Append(Event{Type: TypeTaskClaimed, TaskID: "t1"}.ForWorker(3)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := writer.Append(Event{Type: TypeLevelStarted}.ForLevel(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	lines := readAuditLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Type != TypeTaskClaimed || lines[0].WorkerID == nil || *lines[0].WorkerID != 3 {
		t.Errorf("first line = %+v", lines[0])
	}
	if lines[0].ID == "" {
		t.Error("event id not filled in")
	}
	if lines[1].Level == nil || *lines[1].Level != 0 {
		t.Errorf("second line missing level: %+v", lines[1])
	}
}

func TestAuditTimestampsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writer, err := NewAuditWriter(path)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}
	defer writer.Close()

	// Force a timestamp collision: both events carry the same explicit time.
	at := time.Now().UTC()
	writer.Append(Event{Type: "a", Timestamp: at})
	writer.Append(Event{Type: "b", Timestamp: at})
	writer.Append(Event{Type: "c"})

	lines := readAuditLines(t, path)
	for i := 1; i < len(lines); i++ {
		if !lines[i].Timestamp.After(lines[i-1].Timestamp) {
			t.Errorf("timestamps not monotonic at line %d: %v then %v", i, lines[i-1].Timestamp, lines[i].Timestamp)
		}
	}
}

func TestAuditDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writer, err := NewAuditWriter(path)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}
	defer writer.Close()

	bus := NewBus()
	ch := bus.Tap(16)

	done := make(chan struct{})
	go func() {
		writer.Drain(ch)
		close(done)
	}()

	bus.Publish(TopicRun, Event{Type: TypeRunStarted})
	bus.Publish(TopicRun, Event{Type: TypeRunComplete})
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not finish after bus close")
	}

	lines := readAuditLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func TestAuditAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	writer, err := NewAuditWriter(path)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}
	writer.Append(Event{Type: "first"})
	writer.Close()

	writer, err = NewAuditWriter(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	writer.Append(Event{Type: "second"})
	writer.Close()

	lines := readAuditLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines after reopen, want 2", len(lines))
	}
}

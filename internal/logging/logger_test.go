package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "DEBUG")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.WithRun("run-1", "auth").WithWorker(2).Info("worker started", "pid", 1234)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "orchestrator.log"))
	if err != nil {
		t.Fatalf("opening log file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("log file is empty")
	}

	var entry map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "worker started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["run_id"] != "run-1" || entry["feature"] != "auth" {
		t.Errorf("run attributes missing: %v", entry)
	}
	if entry["worker_id"] != float64(2) {
		t.Errorf("worker_id = %v", entry["worker_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, "ERROR")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("filtered out")
	logger.Error("kept")
	logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, "orchestrator.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "kept") {
		t.Errorf("error line missing from log: %s", content)
	}
	if strings.Contains(content, "filtered out") {
		t.Errorf("info line should have been filtered: %s", content)
	}
}

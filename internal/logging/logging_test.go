package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesToOutput(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(Options{Output: &buf, NoColor: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Close()

	log.Info("remux started", "file", "clip.mkv")

	out := buf.String()
	if !strings.Contains(out, "remux started") {
		t.Errorf("output %q missing message", out)
	}
	if !strings.Contains(out, "clip.mkv") {
		t.Errorf("output %q missing field value", out)
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	var buf bytes.Buffer

	log, err := New(Options{Output: &buf, File: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.Warn("tool slow")
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "tool slow") {
		t.Errorf("file content %q missing message", data)
	}
	if !strings.Contains(buf.String(), "tool slow") {
		t.Error("primary output skipped when file sink is active")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(Options{Output: &buf, Level: "warn", NoColor: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Close()

	log.Info("quiet")
	log.Error("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info line passed a warn-level filter")
	}
	if !strings.Contains(out, "loud") {
		t.Error("error line missing")
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Info("dropped")
	if err := log.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.in, got, tt.want)
		}
	}
}

func TestInitJSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "warn", "json")
	defer InitWithWriter(&bytes.Buffer{}, "error", "json")

	Info("dropped %d", 1)
	Warn("kept %s", "this")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "warn" {
		t.Errorf("expected level warn, got %v", entry["level"])
	}
	if entry["message"] != "kept this" {
		t.Errorf("unexpected message %v", entry["message"])
	}
}

func TestComponentTagsField(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")
	defer InitWithWriter(&bytes.Buffer{}, "error", "json")

	l := Component("dispatcher")
	l.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"dispatcher"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// captureLogOutput reinitializes the logger to write to a buffer while f runs.
func captureLogOutput(t *testing.T, level Level, format Format, f func()) string {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	InitLogger(level, format)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		InitLogger(LevelInfo, FormatText)
	})
	f()
	return buf.String()
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  Level
		format Format
	}{
		{"Debug level JSON format", LevelDebug, FormatJSON},
		{"Warn level Text format", LevelWarn, FormatText},
		{"Default level (invalid value)", Level(999), FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level, tt.format)
			if GetLogger() == nil {
				t.Error("Expected logger to be initialized, got nil")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	out := captureLogOutput(t, LevelWarn, FormatText, func() {
		Debug("hidden debug")
		Info("hidden info")
		Warn("shown warn")
		Error("shown error")
	})
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn were logged: %s", out)
	}
	if !strings.Contains(out, "shown warn") || !strings.Contains(out, "shown error") {
		t.Errorf("expected warn and error output, got %s", out)
	}
}

func TestTimestampFormat(t *testing.T) {
	out := captureLogOutput(t, LevelInfo, FormatJSON, func() {
		Info("stamp")
	})
	var entry map[string]any
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	ts, _ := entry["time"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("time %q is not RFC3339", ts)
	}
}

func TestDocumentIDContext(t *testing.T) {
	ctx := WithDocumentID(context.Background(), "doc-7")
	if got := GetDocumentID(ctx); got != "doc-7" {
		t.Errorf("GetDocumentID() = %q, want doc-7", got)
	}
	if got := GetDocumentID(context.Background()); got != "" {
		t.Errorf("GetDocumentID() on empty context = %q", got)
	}

	out := captureLogOutput(t, LevelDebug, FormatJSON, func() {
		InfoContext(ctx, "with id")
	})
	if !strings.Contains(out, `"document_id":"doc-7"`) {
		t.Errorf("expected document_id in output, got %s", out)
	}
}

func TestDomainHelpers(t *testing.T) {
	ctx := context.Background()
	out := captureLogOutput(t, LevelDebug, FormatJSON, func() {
		DecodeWarning("d1", errors.New("line 4: truncated"))
		ConversionDone(ctx, "decode", "in.tsv", 1500*time.Millisecond, "sentences", 3)
		ConversionFailed(ctx, "encode", "out.tsv", errors.New("disk full"))
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3:\n%s", len(lines), out)
	}
	wants := []map[string]any{
		{"msg": "decode_warning", "document_id": "d1", "warning": "line 4: truncated", "level": "WARN"},
		{"msg": "conversion_done", "operation": "decode", "duration_ms": float64(1500), "sentences": float64(3)},
		{"msg": "conversion_failed", "error": "disk full", "level": "ERROR"},
	}
	for i, want := range wants {
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		for k, v := range want {
			if entry[k] != v {
				t.Errorf("line %d %s = %v, want %v", i, k, entry[k], v)
			}
		}
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	levels := map[string]Level{"debug": LevelDebug, "": LevelInfo, "WARN": LevelWarn, "warning": LevelWarn, "error": LevelError}
	for in, want := range levels {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) should fail")
	}

	formats := map[string]Format{"json": FormatJSON, "text": FormatText, "": FormatText}
	for in, want := range formats {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

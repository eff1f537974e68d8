package tilelog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.With("run_id", "abc123").Info("starting run", "ops", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "starting run" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["run_id"] != "abc123" {
		t.Errorf("expected run_id to survive With(), got %v", entry["run_id"])
	}
}

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Debug("should be dropped")
	log.Info("should be dropped too")
	if buf.Len() != 0 {
		t.Errorf("expected no output below the configured level, got %q", buf.String())
	}
	log.Warn("this one counts")
	if buf.Len() == 0 {
		t.Error("expected the warn line to be written")
	}
}

func TestWithContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), log)
	got := FromContext(ctx)
	got.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Error("expected the logger retrieved from context to write through")
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	got := FromContext(context.Background())
	if got == nil {
		t.Fatal("expected a non-nil fallback logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

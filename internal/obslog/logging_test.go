package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func captureLogger(level, format string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(LogConfig{Level: level, Format: format, Output: &buf}), &buf
}

func TestLevelFiltering(t *testing.T) {
	log, buf := captureLogger("warn", "text")
	ctx := context.Background()

	log.Info(ctx, "too quiet")
	log.Warn(ctx, "loud enough")

	out := buf.String()
	if strings.Contains(out, "too quiet") {
		t.Fatal("info record leaked past a warn-level logger")
	}
	if !strings.Contains(out, "loud enough") {
		t.Fatal("warn record missing")
	}
}

func TestJSONRecordsCarryContextIDs(t *testing.T) {
	log, buf := captureLogger("info", "json")
	ctx := WithUserID(WithSessionID(context.Background(), "sess-9"), "user-3")

	log.Info(ctx, "turn started", "thread", "t-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("not one JSON record: %v\n%s", err, buf.String())
	}
	if record["session_id"] != "sess-9" || record["user_id"] != "user-3" {
		t.Fatalf("context ids missing from record: %v", record)
	}
	if record["thread"] != "t-1" {
		t.Fatalf("attribute missing: %v", record)
	}
}

func TestBuiltinRedaction(t *testing.T) {
	log, buf := captureLogger("info", "text")
	ctx := context.Background()

	log.Info(ctx, "provider call failed",
		"detail", "request used api_key=supersecretvalue123 and retried",
		"err", errors.New("auth with bearer abcdefghijklmnopqrstuvwx failed"))

	out := buf.String()
	if strings.Contains(out, "supersecretvalue123") || strings.Contains(out, "abcdefghijklmnopqrstuvwx") {
		t.Fatalf("secret material reached the sink:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction markers:\n%s", out)
	}
}

func TestSensitiveMapKeysRedactedWholesale(t *testing.T) {
	log, buf := captureLogger("info", "json")
	log.Info(context.Background(), "headers", "h", map[string]string{
		"Authorization": "Basic xyz",
		"Accept":        "application/json",
	})
	out := buf.String()
	if strings.Contains(out, "Basic xyz") {
		t.Fatalf("authorization header value leaked:\n%s", out)
	}
	if !strings.Contains(out, "application/json") {
		t.Fatalf("benign header value lost:\n%s", out)
	}
}

func TestAttachedScrubberRunsOnEveryString(t *testing.T) {
	log, buf := captureLogger("info", "text")
	log.AttachScrubber(func(s string) string {
		return strings.ReplaceAll(s, "vault-only-value", "[REDACTED:exact-value]")
	})

	log.Info(context.Background(), "tool echoed vault-only-value back")
	if strings.Contains(buf.String(), "vault-only-value") {
		t.Fatalf("scrubber did not run:\n%s", buf.String())
	}
}

func TestExtraRedactPatterns(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{
		Output:         &buf,
		Format:         "text",
		RedactPatterns: []string{`ICLW-[0-9]{6}`, `(broken`},
	})
	log.Info(context.Background(), "ticket ICLW-123456 closed")
	if strings.Contains(buf.String(), "ICLW-123456") {
		t.Fatalf("custom pattern not applied:\n%s", buf.String())
	}
}

func TestWithFieldsPropagatesScrubber(t *testing.T) {
	log, buf := captureLogger("info", "text")
	log.AttachScrubber(func(s string) string {
		return strings.ReplaceAll(s, "hidden", "[REDACTED]")
	})
	child := log.WithFields("component", "sandbox")

	child.Info(context.Background(), "value hidden here")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("child logger lost the scrubber:\n%s", out)
	}
	if !strings.Contains(out, "sandbox") {
		t.Fatalf("child fields missing:\n%s", out)
	}
}

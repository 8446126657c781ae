package logging

import (
	"context"
	"strings"
	"testing"

	"curator/internal/services"
)

func TestParseLevelDefaults(t *testing.T) {
	if got := parseLevel("nonsense"); got != parseLevel("info") {
		t.Fatalf("unexpected level for unknown input: %v", got)
	}
	if got := parseLevel(" DEBUG "); got != parseLevel("debug") {
		t.Fatalf("expected case and whitespace insensitivity, got %v", got)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := services.WithRecordKey(context.Background(), "AF0010")
	ctx = services.WithStage(ctx, "thumbnail")

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	joined := strings.Join(keys, ",")
	if !strings.Contains(joined, FieldRecordKey) || !strings.Contains(joined, FieldStage) {
		t.Fatalf("missing context fields: %v", keys)
	}
}

func TestMaybeQuote(t *testing.T) {
	if got := maybeQuote("plain"); got != "plain" {
		t.Fatalf("unexpected quoting: %q", got)
	}
	if got := maybeQuote("has space"); got != `"has space"` {
		t.Fatalf("expected quoted value, got %q", got)
	}
	if got := maybeQuote(""); got != `""` {
		t.Fatalf("expected quoted empty, got %q", got)
	}
}

package services_test

import (
	"context"
	"testing"

	"curator/internal/services"
)

func TestContextCarriesRecordMetadata(t *testing.T) {
	ctx := services.WithRequestID(
		services.WithStage(
			services.WithRecordKey(context.Background(), "AF0002"),
			"caption"),
		"req-123")

	key, ok := services.RecordKeyFromContext(ctx)
	if !ok {
		t.Fatal("record key missing from context")
	}
	if key != "AF0002" {
		t.Fatalf("record key = %q, want AF0002", key)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "caption" {
		t.Fatalf("stage = %q ok=%v, want caption", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("request id = %q ok=%v, want req-123", rid, ok)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("blank stage should not be stored")
	}
	if _, ok := services.RecordKeyFromContext(context.Background()); ok {
		t.Fatal("fresh context should carry no record key")
	}
}

package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"curator/internal/catalog"
	"curator/internal/stage"
)

func noopHandler() stage.Handler {
	return stage.Func(func(context.Context, *catalog.Record) error { return nil })
}

func validDefs() []Definition {
	return []Definition{
		{
			Name:           "fileinfo",
			Trigger:        catalog.StagePendingImport,
			Next:           catalog.StageFileInfoExtracted,
			Handler:        noopHandler(),
			Timeout:        time.Minute,
			MaxConcurrency: 2,
		},
		{
			Name:           "thumbnail",
			Trigger:        catalog.StageFileInfoExtracted,
			Next:           catalog.StageThumbnailsGenerated,
			Handler:        noopHandler(),
			Timeout:        time.Minute,
			MaxConcurrency: 2,
		},
	}
}

func TestNewTableValid(t *testing.T) {
	table, err := NewTable(catalog.AssetFootage, validDefs())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	def, ok := table.ForTrigger(catalog.StagePendingImport)
	if !ok || def.Name != "fileinfo" {
		t.Fatalf("unexpected lookup: %v %v", def, ok)
	}
	if len(table.Definitions()) != 2 {
		t.Fatalf("unexpected definition count")
	}
}

func TestNewTableRejectsDuplicateTrigger(t *testing.T) {
	defs := validDefs()
	defs[1].Trigger = defs[0].Trigger
	if _, err := NewTable(catalog.AssetFootage, defs); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate trigger error, got %v", err)
	}
}

func TestNewTableRejectsBackwardTransition(t *testing.T) {
	defs := validDefs()
	defs[1].Next = catalog.StagePendingImport
	if _, err := NewTable(catalog.AssetFootage, defs); err == nil || !strings.Contains(err.Error(), "forward") {
		t.Fatalf("expected forward-transition error, got %v", err)
	}
}

func TestNewTableRejectsUnreachableStage(t *testing.T) {
	defs := validDefs()
	defs[1].Trigger = catalog.StageCaptioned
	defs[1].Next = catalog.StageTranscribed
	if _, err := NewTable(catalog.AssetFootage, defs); err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestNewTableRejectsMissingPieces(t *testing.T) {
	defs := validDefs()
	defs[0].Timeout = 0
	if _, err := NewTable(catalog.AssetFootage, defs); err == nil {
		t.Fatal("expected error for missing timeout")
	}

	defs = validDefs()
	defs[0].Handler = nil
	if _, err := NewTable(catalog.AssetFootage, defs); err == nil {
		t.Fatal("expected error for missing handler")
	}

	if _, err := NewTable(catalog.AssetFootage, nil); err == nil {
		t.Fatal("expected error for empty table")
	}
}

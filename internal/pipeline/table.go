package pipeline

import (
	"errors"
	"fmt"
	"time"

	"curator/internal/catalog"
	"curator/internal/stage"
)

// Definition is one stage of a pipeline: the status that triggers it, the
// handler that performs the unit of work, the status written on success, and
// the dispatch limits. Definitions are static configuration, built once at
// startup and never mutated.
type Definition struct {
	Name           string
	Trigger        catalog.Stage
	Next           catalog.Stage
	Handler        stage.Handler
	Timeout        time.Duration
	MaxConcurrency int
}

// Table is the ordered list of stage definitions for one asset type, the
// pipeline's program.
type Table struct {
	Asset     catalog.AssetType
	defs      []Definition
	byTrigger map[int]Definition
}

// NewTable validates and assembles a stage table. It rejects duplicate
// trigger statuses, non-forward transitions, and stages unreachable from the
// pipeline entry.
func NewTable(asset catalog.AssetType, defs []Definition) (*Table, error) {
	if len(defs) == 0 {
		return nil, errors.New("stage table: no definitions")
	}

	byTrigger := make(map[int]Definition, len(defs))
	nexts := make(map[int]struct{}, len(defs))
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("stage table: definition %d has no name", i)
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("stage table: %s has no handler", def.Name)
		}
		if def.Timeout <= 0 {
			return nil, fmt.Errorf("stage table: %s has no timeout", def.Name)
		}
		if def.MaxConcurrency <= 0 {
			return nil, fmt.Errorf("stage table: %s has non-positive concurrency", def.Name)
		}
		if !def.Trigger.Before(def.Next) {
			return nil, fmt.Errorf("stage table: %s does not move forward (%s -> %s)",
				def.Name, def.Trigger, def.Next)
		}
		if _, dup := byTrigger[def.Trigger.Ordinal]; dup {
			return nil, fmt.Errorf("stage table: duplicate trigger status %s", def.Trigger)
		}
		byTrigger[def.Trigger.Ordinal] = def
		nexts[def.Next.Ordinal] = struct{}{}
	}

	entry := defs[0].Trigger.Ordinal
	for _, def := range defs {
		if def.Trigger.Ordinal == entry {
			continue
		}
		if _, ok := nexts[def.Trigger.Ordinal]; !ok {
			return nil, fmt.Errorf("stage table: %s is unreachable (no stage produces %s)",
				def.Name, def.Trigger)
		}
	}

	ordered := make([]Definition, len(defs))
	copy(ordered, defs)
	return &Table{Asset: asset, defs: ordered, byTrigger: byTrigger}, nil
}

// Definitions returns the stage definitions in pipeline order.
func (t *Table) Definitions() []Definition {
	cp := make([]Definition, len(t.defs))
	copy(cp, t.defs)
	return cp
}

// ForTrigger returns the definition triggered by the given stage.
func (t *Table) ForTrigger(trigger catalog.Stage) (Definition, bool) {
	def, ok := t.byTrigger[trigger.Ordinal]
	return def, ok
}

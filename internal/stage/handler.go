package stage

import (
	"context"

	"curator/internal/catalog"
)

// Handler describes the contract the pipeline needs from each stage: one unit
// of work against one record. Execute must honor context cancellation; the
// dispatcher enforces the stage timeout by cancelling the context, and any
// subprocess or API call the handler starts must die with it.
type Handler interface {
	Execute(ctx context.Context, rec *catalog.Record) error
	HealthCheck(ctx context.Context) Health
}

// Func adapts a bare function into a Handler that always reports healthy.
type Func func(ctx context.Context, rec *catalog.Record) error

func (f Func) Execute(ctx context.Context, rec *catalog.Record) error { return f(ctx, rec) }

func (f Func) HealthCheck(context.Context) Health { return Healthy("func") }

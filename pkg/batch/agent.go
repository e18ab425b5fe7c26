package batch

import (
	"context"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

// Agent performs the intelligence call for one item. Implementations are not
// assumed to be safe for concurrent use; the engine gives every batch its own
// instance.
type Agent interface {
	Run(ctx context.Context, item work.Item) (work.Record, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc func(ctx context.Context, item work.Item) (work.Record, error)

// Run calls f.
func (f AgentFunc) Run(ctx context.Context, item work.Item) (work.Record, error) {
	return f(ctx, item)
}

// AgentFactory builds a fresh Agent. It is called once per batch.
type AgentFactory func() (Agent, error)

// ResultCache short-circuits calls for prompts that were answered before.
// Lookup misses and Store failures are never errors to the engine.
type ResultCache interface {
	Lookup(ctx context.Context, item work.Item) (work.Record, bool)
	Store(ctx context.Context, item work.Item, record work.Record)
}

// ProgressStore persists cumulative outcomes. Snapshot overwrites the
// progress output; Finalize writes the terminal output once.
type ProgressStore interface {
	Snapshot(ctx context.Context, successes, failures []work.Outcome) error
	Finalize(ctx context.Context, successes, failures []work.Outcome, report work.Report) error
}

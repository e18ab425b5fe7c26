package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/intel-batch/pkg/output"
	"github.com/Sternrassler/intel-batch/pkg/retry"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

var (
	// ErrCancelled is recorded for items of a running batch that were skipped
	// because the run was cancelled.
	ErrCancelled = errors.New("skipped: run cancelled")

	// ErrAgentPanic marks an attempt that panicked inside the agent.
	ErrAgentPanic = errors.New("agent panicked")
)

// BatchResult holds the outcomes of one batch in input order.
type BatchResult struct {
	Batch     int
	Successes []work.Outcome
	Failures  []work.Outcome
	Duration  time.Duration
}

// Len returns the number of outcomes in the result.
func (r BatchResult) Len() int {
	return len(r.Successes) + len(r.Failures)
}

// Worker processes one batch at a time, strictly sequentially. It holds no
// per-batch state; a single Worker may serve many concurrent batches as long
// as each batch brings its own Agent.
type Worker struct {
	executor *retry.Executor
	cache    ResultCache
	dir      output.Dir
	logger   zerolog.Logger
}

// NewWorker creates a worker writing its files into dir. cache may be nil.
func NewWorker(executor *retry.Executor, dir output.Dir, cache ResultCache, logger zerolog.Logger) *Worker {
	return &Worker{
		executor: executor,
		cache:    cache,
		dir:      dir,
		logger:   logger,
	}
}

// ProcessBatch runs agent over every item of b in order. A failing item never
// stops the batch. Each success is written to its own file as soon as it is
// known; the batch-level files are written at the end.
//
// Once ctx is cancelled the item in progress still finishes, including its
// retries, and every remaining item is recorded as ErrCancelled.
func (w *Worker) ProcessBatch(ctx context.Context, b work.Batch, agent Agent) BatchResult {
	start := time.Now()
	batchesInFlight.Inc()
	defer batchesInFlight.Dec()

	logger := w.logger.With().Int("batch", b.Num).Logger()
	logger.Info().
		Int("items", b.Len()).
		Msg("Batch started")

	result := BatchResult{Batch: b.Num}
	call := retry.Wrap(w.executor, guard(agent))
	callCtx := context.WithoutCancel(ctx)

	for i, item := range b.Items {
		if ctx.Err() != nil {
			for _, skipped := range b.Items[i:] {
				result.Failures = append(result.Failures, work.Failure(skipped, b.Num, ErrCancelled, 0))
				itemsTotal.WithLabelValues("cancelled").Inc()
			}
			logger.Warn().
				Int("skipped", b.Len()-i).
				Msg("Batch interrupted, remaining items marked cancelled")
			break
		}

		outcome := w.processItem(callCtx, b.Num, item, call)
		if !outcome.Succeeded() {
			result.Failures = append(result.Failures, outcome)
			itemsTotal.WithLabelValues("failure").Inc()
			logger.Error().
				Err(outcome.Err).
				Str("item", item.Prompt).
				Int("attempts", outcome.Attempts).
				Msg("Item failed")
			continue
		}

		result.Successes = append(result.Successes, outcome)
		itemsTotal.WithLabelValues("success").Inc()
		path := w.dir.ItemFile(len(result.Successes), b.Num)
		w.persist(logger, path, func() error {
			return output.WriteRecords(path, []work.Record{outcome.Record})
		})
	}

	if len(result.Successes) > 0 {
		path := w.dir.BatchCompleteFile(b.Num)
		w.persist(logger, path, func() error {
			return output.WriteRecords(path, output.Records(result.Successes))
		})
	}
	if len(result.Failures) > 0 {
		path := w.dir.BatchFailedFile(b.Num)
		w.persist(logger, path, func() error {
			return output.WriteFailures(path, result.Failures)
		})
	}

	result.Duration = time.Since(start)
	batchesTotal.Inc()
	batchDuration.Observe(result.Duration.Seconds())

	logger.Info().
		Int("succeeded", len(result.Successes)).
		Int("failed", len(result.Failures)).
		Dur("duration", result.Duration).
		Msg("Batch complete")

	return result
}

func (w *Worker) processItem(ctx context.Context, batchNum int, item work.Item, call func(context.Context, work.Item) (work.Record, int, error)) work.Outcome {
	if w.cache != nil {
		if record, ok := w.cache.Lookup(ctx, item); ok {
			outcome := work.Success(item, batchNum, record, 0)
			outcome.Cached = true
			return outcome
		}
	}

	record, attempts, err := call(ctx, item)
	if err != nil {
		return work.Failure(item, batchNum, err, attempts)
	}

	if w.cache != nil {
		w.cache.Store(ctx, item, record)
	}
	return work.Success(item, batchNum, record, attempts)
}

// persist runs a file write. Failures are logged and otherwise ignored so
// that a full disk never aborts processing.
func (w *Worker) persist(logger zerolog.Logger, path string, write func() error) {
	if err := write(); err != nil {
		logger.Warn().
			Err(err).
			Str("path", path).
			Msg("Failed to write output file")
	}
}

// guard turns a panic inside the agent into an attempt error.
func guard(agent Agent) func(context.Context, work.Item) (work.Record, error) {
	return func(ctx context.Context, item work.Item) (record work.Record, err error) {
		defer func() {
			if r := recover(); r != nil {
				record = nil
				err = fmt.Errorf("%w: %v", ErrAgentPanic, r)
			}
		}()
		return agent.Run(ctx, item)
	}
}

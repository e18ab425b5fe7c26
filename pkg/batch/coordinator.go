package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/intel-batch/pkg/output"
	"github.com/Sternrassler/intel-batch/pkg/retry"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

// Config holds coordinator configuration.
type Config struct {
	// BatchSize is the number of items per batch.
	BatchSize int

	// NumWorkers caps the number of batches running at once.
	NumWorkers int

	// MaxInFlight is the number of batches submitted before the coordinator
	// waits for all of them, harvests and writes a progress snapshot.
	// Zero means 2 * NumWorkers.
	MaxInFlight int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:  15,
		NumWorkers: 4,
	}
}

// Validate checks the numeric settings.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.NumWorkers)
	}
	return nil
}

// CohortSize returns the effective in-flight cap.
func (c Config) CohortSize() int {
	if c.MaxInFlight > 0 {
		return c.MaxInFlight
	}
	return 2 * c.NumWorkers
}

// Options wires the collaborators of a Coordinator.
type Options struct {
	// Factory builds one Agent per batch. Required.
	Factory AgentFactory

	// Executor applies retry and the shared rate limiter. Required.
	Executor *retry.Executor

	// Store receives progress snapshots and the final output. Required.
	Store ProgressStore

	// Cache is consulted before every call. Optional.
	Cache ResultCache

	// Output is the run directory for per-item and per-batch files.
	Output output.Dir

	// RunID identifies the run in logs and the summary. Generated when empty.
	RunID string

	Logger zerolog.Logger
}

// Result is the aggregate of a run. Successes and Failures follow harvest
// order, which is per-cohort and not global input order.
type Result struct {
	Successes []work.Outcome
	Failures  []work.Outcome
	Report    work.Report
}

// Coordinator partitions the input and runs batches on a bounded pool.
type Coordinator struct {
	config  Config
	opts    Options
	worker  *Worker
	logger  zerolog.Logger
	nowFunc func() time.Time
}

// NewCoordinator validates the configuration and collaborators.
func NewCoordinator(config Config, opts Options) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if opts.Factory == nil {
		return nil, ErrNilFactory
	}
	if opts.Executor == nil {
		return nil, ErrNilExecutor
	}
	if opts.Store == nil {
		return nil, ErrNilStore
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	logger := opts.Logger.With().Str("run_id", opts.RunID).Logger()

	return &Coordinator{
		config:  config,
		opts:    opts,
		worker:  NewWorker(opts.Executor, opts.Output, opts.Cache, logger),
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// RunID returns the identifier of the run.
func (c *Coordinator) RunID() string {
	return c.opts.RunID
}

// Run processes every item and returns the aggregate result.
//
// Batches are submitted in input order to a pool of NumWorkers. After each
// cohort of CohortSize batches (or the last batch) the coordinator waits for
// the whole cohort, harvests it and writes a progress snapshot. Cancelling
// ctx stops submission; batches already running finish their current item.
//
// A non-nil error means the run did not complete. The returned Result still
// carries everything harvested up to that point.
func (c *Coordinator) Run(ctx context.Context, items []work.Item) (*Result, error) {
	started := c.nowFunc()
	res := &Result{
		Report: work.Report{
			RunID:   c.opts.RunID,
			Total:   len(items),
			Started: started,
		},
	}

	batches, err := Partition(items, c.config.BatchSize)
	if err != nil {
		return res, fmt.Errorf("partition input: %w", err)
	}
	res.Report.Batches = len(batches)

	c.logger.Info().
		Int("items", len(items)).
		Int("batches", len(batches)).
		Int("batch_size", c.config.BatchSize).
		Int("workers", c.config.NumWorkers).
		Msg("Run started")

	// Store writes must still happen after an interrupt.
	persistCtx := context.WithoutCancel(ctx)
	cohortSize := c.config.CohortSize()

	for next := 0; next < len(batches) && ctx.Err() == nil; {
		end := min(next+cohortSize, len(batches))

		results, submitted, setupErr := c.runCohort(ctx, batches[next:end])
		next += submitted

		c.harvest(res, results)

		if err := c.opts.Store.Snapshot(persistCtx, res.Successes, res.Failures); err != nil {
			c.finish(res)
			return res, fmt.Errorf("progress snapshot: %w", err)
		}

		c.logger.Info().
			Int("batches_done", res.Report.BatchesDone).
			Int("batches", len(batches)).
			Int("succeeded", len(res.Successes)).
			Int("failed", len(res.Failures)).
			Msg("Progress saved")

		if setupErr != nil {
			c.finish(res)
			return res, setupErr
		}
	}

	c.finish(res)
	if ctx.Err() != nil {
		res.Report.Interrupted = true
	}

	if err := c.opts.Store.Finalize(persistCtx, res.Successes, res.Failures, res.Report); err != nil {
		return res, fmt.Errorf("final output: %w", err)
	}

	c.logSummary(res.Report)

	if ctx.Err() != nil {
		return res, fmt.Errorf("run interrupted with %d items pending: %w", res.Report.Pending, ctx.Err())
	}
	return res, nil
}

// runCohort submits batches to a pool of NumWorkers and waits for all of
// them. It returns the results of the batches that actually ran. A batch
// still waiting for a pool slot when ctx is cancelled never starts, so its
// items stay pending. A factory failure stops submission and is returned
// after the pool drains.
func (c *Coordinator) runCohort(ctx context.Context, cohort []work.Batch) ([]BatchResult, int, error) {
	results := make([]BatchResult, len(cohort))
	started := make([]bool, len(cohort))

	var g errgroup.Group
	g.SetLimit(c.config.NumWorkers)

	var setupErr error
	for i, b := range cohort {
		if ctx.Err() != nil {
			c.logger.Warn().
				Int("batch", b.Num).
				Msg("Run cancelled, no further batches submitted")
			break
		}

		agent, err := c.opts.Factory()
		if err != nil {
			setupErr = fmt.Errorf("create agent for batch %d: %w", b.Num, err)
			break
		}

		// Go blocks while the pool is full; the run may be cancelled meanwhile.
		g.Go(func() error {
			if ctx.Err() != nil {
				c.logger.Warn().
					Int("batch", b.Num).
					Msg("Run cancelled before batch started")
				return nil
			}
			results[i] = c.worker.ProcessBatch(ctx, b, agent)
			started[i] = true
			return nil
		})
	}

	// Batch tasks never return errors.
	_ = g.Wait()

	ran := make([]BatchResult, 0, len(cohort))
	for i, ok := range started {
		if ok {
			ran = append(ran, results[i])
		}
	}
	return ran, len(ran), setupErr
}

// harvest folds a cohort into the running totals. Only the coordinator
// goroutine calls it.
func (c *Coordinator) harvest(res *Result, results []BatchResult) {
	for _, r := range results {
		res.Successes = append(res.Successes, r.Successes...)
		res.Failures = append(res.Failures, r.Failures...)
		res.Report.BatchesDone++
	}
	res.Report.Succeeded = len(res.Successes)
	res.Report.Failed = len(res.Failures)
}

func (c *Coordinator) finish(res *Result) {
	r := &res.Report
	r.Duration = c.nowFunc().Sub(r.Started)
	r.Pending = r.Total - r.Succeeded - r.Failed
	if n := r.Processed(); n > 0 {
		r.AvgPerItem = r.Duration / time.Duration(n)
	}
}

func (c *Coordinator) logSummary(r work.Report) {
	c.logger.Info().
		Int("total", r.Total).
		Int("succeeded", r.Succeeded).
		Int("failed", r.Failed).
		Int("pending", r.Pending).
		Float64("success_rate", r.SuccessRate()).
		Dur("duration", r.Duration).
		Dur("avg_per_item", r.AvgPerItem).
		Msg("Run complete")
}

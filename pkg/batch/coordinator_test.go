package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/intel-batch/pkg/output"
	"github.com/Sternrassler/intel-batch/pkg/progress"
	"github.com/Sternrassler/intel-batch/pkg/ratelimit"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

func newTestCoordinator(t *testing.T, cfg Config, factory AgentFactory, store ProgressStore, executorRetries int) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(cfg, Options{
		Factory:  factory,
		Executor: newTestExecutor(executorRetries, nil),
		Store:    store,
		Output:   output.Dir(t.TempDir()),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return coord
}

func agentFactory(failing map[string]bool) AgentFactory {
	return func() (Agent, error) {
		return &scriptedAgent{failing: failing}, nil
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	valid := Options{
		Factory:  agentFactory(nil),
		Executor: newTestExecutor(0, nil),
		Store:    &memoryStore{},
	}

	tests := []struct {
		name    string
		config  Config
		mutate  func(o *Options)
		wantErr error
	}{
		{name: "zero batch size", config: Config{BatchSize: 0, NumWorkers: 1}, wantErr: ErrInvalidBatchSize},
		{name: "zero workers", config: Config{BatchSize: 1, NumWorkers: 0}, wantErr: ErrInvalidWorkers},
		{name: "nil factory", config: DefaultConfig(), mutate: func(o *Options) { o.Factory = nil }, wantErr: ErrNilFactory},
		{name: "nil executor", config: DefaultConfig(), mutate: func(o *Options) { o.Executor = nil }, wantErr: ErrNilExecutor},
		{name: "nil store", config: DefaultConfig(), mutate: func(o *Options) { o.Store = nil }, wantErr: ErrNilStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			_, err := NewCoordinator(tt.config, opts)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	coord, err := NewCoordinator(DefaultConfig(), valid)
	require.NoError(t, err)
	assert.NotEmpty(t, coord.RunID(), "run ID is generated")
}

func TestConfig_CohortSize(t *testing.T) {
	assert.Equal(t, 8, DefaultConfig().CohortSize())
	assert.Equal(t, 3, Config{BatchSize: 1, NumWorkers: 4, MaxInFlight: 3}.CohortSize())
}

func TestRun_AllSucceed(t *testing.T) {
	store := &memoryStore{}
	coord := newTestCoordinator(t, Config{BatchSize: 2, NumWorkers: 2}, agentFactory(nil), store, 1)

	items := []work.Item{{Index: 0, Prompt: "A"}, {Index: 1, Prompt: "B"}, {Index: 2, Prompt: "C"}, {Index: 3, Prompt: "D"}}

	res, err := coord.Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Report.Batches)
	assert.Equal(t, 2, res.Report.BatchesDone)
	assert.Len(t, res.Successes, 4)
	assert.Empty(t, res.Failures)
	assert.Equal(t, "100.0", fmt.Sprintf("%.1f", res.Report.SuccessRate()))
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, prompts(res.Successes))

	assert.Equal(t, 1, store.finalized)
	assert.Len(t, store.successes, 4)
	assert.Equal(t, res.Report, store.report)
	assert.NotEmpty(t, store.snapshots)
}

func TestRun_OneItemAlwaysFails(t *testing.T) {
	store := &memoryStore{}
	coord := newTestCoordinator(t, Config{BatchSize: 2, NumWorkers: 2}, agentFactory(map[string]bool{"item-2": true}), store, 2)

	res, err := coord.Run(context.Background(), makeItems(3))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Report.Succeeded)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, 0, res.Report.Pending)
	assert.Equal(t, "66.7", fmt.Sprintf("%.1f", res.Report.SuccessRate()))

	require.Len(t, store.failures, 1)
	assert.Equal(t, "item-2", store.failures[0].Item.Prompt)
	assert.Contains(t, store.failures[0].ErrorMessage(), errUpstream.Error())
}

func TestRun_EveryItemHasExactlyOneOutcome(t *testing.T) {
	failing := map[string]bool{"item-4": true, "item-11": true, "item-23": true}
	coord := newTestCoordinator(t, Config{BatchSize: 4, NumWorkers: 3}, agentFactory(failing), &memoryStore{}, 0)

	items := makeItems(25)
	res, err := coord.Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, len(items), len(res.Successes)+len(res.Failures))
	assert.Len(t, res.Failures, 3)

	seen := make(map[int]int)
	for _, o := range append(res.Successes, res.Failures...) {
		seen[o.Item.Index]++
	}
	for _, item := range items {
		assert.Equal(t, 1, seen[item.Index], "item %d", item.Index)
	}
}

func TestRun_SnapshotAfterEveryCohort(t *testing.T) {
	store := &memoryStore{}
	coord := newTestCoordinator(t, Config{BatchSize: 1, NumWorkers: 1, MaxInFlight: 2}, agentFactory(nil), store, 0)

	_, err := coord.Run(context.Background(), makeItems(5))
	require.NoError(t, err)

	// Five batches in cohorts of two: 2, 2, 1.
	assert.Equal(t, [][2]int{{2, 0}, {4, 0}, {5, 0}}, store.snapshots)
	assert.Equal(t, 1, store.finalized)
}

func TestRun_AgentPerBatchNeverShared(t *testing.T) {
	var shared atomic.Bool
	var created atomic.Int32

	factory := func() (Agent, error) {
		created.Add(1)
		return &scriptedAgent{
			shared: &shared,
			onCall: func(work.Item) { time.Sleep(2 * time.Millisecond) },
		}, nil
	}

	coord := newTestCoordinator(t, Config{BatchSize: 3, NumWorkers: 4}, factory, &memoryStore{}, 0)
	_, err := coord.Run(context.Background(), makeItems(30))
	require.NoError(t, err)

	assert.Equal(t, int32(10), created.Load(), "one agent per batch")
	assert.False(t, shared.Load(), "an agent was used by two goroutines at once")
}

func TestRun_ConcurrencyCappedAtWorkers(t *testing.T) {
	var running, peak atomic.Int32

	factory := func() (Agent, error) {
		return AgentFunc(func(_ context.Context, item work.Item) (work.Record, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return work.Record{"prompt": item.Prompt}, nil
		}), nil
	}

	coord := newTestCoordinator(t, Config{BatchSize: 1, NumWorkers: 3}, factory, &memoryStore{}, 0)
	_, err := coord.Run(context.Background(), makeItems(12))
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1), "batches should overlap")
}

func TestRun_SharedRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(3000, zerolog.Nop()) // one grant per 20ms
	executor := newTestExecutor(0, limiter)

	coord, err := NewCoordinator(Config{BatchSize: 2, NumWorkers: 3}, Options{
		Factory:  agentFactory(nil),
		Executor: executor,
		Store:    &memoryStore{},
		Output:   output.Dir(t.TempDir()),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	start := time.Now()
	res, err := coord.Run(context.Background(), makeItems(6))
	require.NoError(t, err)

	assert.Len(t, res.Successes, 6)
	assert.GreaterOrEqual(t, time.Since(start), 5*limiter.MinInterval(), "6 grants need at least 5 intervals")
	assert.Equal(t, int64(6), limiter.State().Grants)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	factory := func() (Agent, error) {
		return &scriptedAgent{onCall: func(work.Item) { once.Do(cancel) }}, nil
	}

	store := &memoryStore{}
	coord := newTestCoordinator(t, Config{BatchSize: 2, NumWorkers: 1}, factory, store, 0)

	res, err := coord.Run(ctx, makeItems(6))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	r := res.Report
	assert.Equal(t, 1, r.Succeeded, "only the item in progress completes")
	assert.Equal(t, 1, r.Failed, "the rest of the running batch is cancelled")
	assert.Equal(t, 4, r.Pending, "batches waiting for a slot never start")
	assert.Equal(t, 1, r.BatchesDone)
	assert.Equal(t, 50.0, r.SuccessRate())
	assert.True(t, r.Interrupted)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrCancelled)
	assert.Equal(t, 1, res.Failures[0].Batch)

	assert.Equal(t, 1, store.finalized, "final output is written after an interrupt")
	assert.NotEmpty(t, store.snapshots)
}

func TestRun_CancelledWhileWaitingForSlot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	factory := func() (Agent, error) {
		return &scriptedAgent{onCall: func(work.Item) { once.Do(cancel) }}, nil
	}

	dir := output.Dir(t.TempDir())
	coord, err := NewCoordinator(Config{BatchSize: 3, NumWorkers: 1, MaxInFlight: 2}, Options{
		Factory:  factory,
		Executor: newTestExecutor(0, nil),
		Store:    &memoryStore{},
		Output:   dir,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	res, err := coord.Run(ctx, makeItems(6))
	assert.ErrorIs(t, err, context.Canceled)

	for _, f := range res.Failures {
		assert.Equal(t, 1, f.Batch, "no outcome is recorded for a batch that never started")
	}
	assert.Equal(t, 3, res.Report.Pending)
	assert.NoFileExists(t, dir.BatchFailedFile(2))
	assert.NoFileExists(t, dir.BatchCompleteFile(2))
}

func TestRun_AverageCountsProcessedItemsOnly(t *testing.T) {
	var calls atomic.Int32
	factory := func() (Agent, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("no credentials")
		}
		return &scriptedAgent{}, nil
	}

	coord := newTestCoordinator(t, Config{BatchSize: 2, NumWorkers: 1}, factory, &memoryStore{}, 0)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := 0
	coord.nowFunc = func() time.Time {
		ticks++
		if ticks == 1 {
			return start
		}
		return start.Add(time.Minute)
	}

	res, err := coord.Run(context.Background(), makeItems(6))
	require.Error(t, err)

	assert.Equal(t, 4, res.Report.Pending)
	assert.Equal(t, time.Minute, res.Report.Duration)
	assert.Equal(t, 30*time.Second, res.Report.AvgPerItem, "pending items are not averaged in")
}

func TestRun_FactoryErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	factory := func() (Agent, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("no credentials")
		}
		return &scriptedAgent{}, nil
	}

	store := &memoryStore{}
	coord := newTestCoordinator(t, Config{BatchSize: 2, NumWorkers: 1}, factory, store, 0)

	res, err := coord.Run(context.Background(), makeItems(6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create agent for batch 2")

	assert.Len(t, res.Successes, 2, "the first batch is harvested")
	assert.Equal(t, 4, res.Report.Pending)
	assert.Equal(t, [][2]int{{2, 0}}, store.snapshots)
	assert.Equal(t, 0, store.finalized)
}

func TestRun_SnapshotErrorIsFatal(t *testing.T) {
	store := &memoryStore{snapshotErr: errors.New("disk full")}
	coord := newTestCoordinator(t, Config{BatchSize: 1, NumWorkers: 1, MaxInFlight: 1}, agentFactory(nil), store, 0)

	res, err := coord.Run(context.Background(), makeItems(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, res.Successes, 1, "totals harvested before the failure are returned")
	assert.Equal(t, 2, res.Report.Pending)
}

func TestRun_EmptyInput(t *testing.T) {
	store := &memoryStore{}
	coord := newTestCoordinator(t, DefaultConfig(), agentFactory(nil), store, 0)

	res, err := coord.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Report.Total)
	assert.Equal(t, 0, res.Report.Batches)
	assert.Equal(t, 1, store.finalized)
}

func TestRun_WithProgressStore(t *testing.T) {
	dir := output.Dir(t.TempDir())
	store, err := progress.NewStore(dir, zerolog.Nop(), progress.WithTotal(4))
	require.NoError(t, err)

	coord, err := NewCoordinator(Config{BatchSize: 2, NumWorkers: 2}, Options{
		Factory:  agentFactory(map[string]bool{"item-4": true}),
		Executor: newTestExecutor(1, nil),
		Store:    store,
		Output:   dir,
		RunID:    "fixed",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = coord.Run(context.Background(), makeItems(4))
	require.NoError(t, err)

	for _, name := range []string{
		"company_1_1.csv", "company_2_1.csv", "company_1_2.csv",
		"batch_1_complete.csv", "batch_2_complete.csv", "batch_2_failed.csv",
		output.ResultsProgressFile, output.FailedProgressFile,
		output.ResultsFinalFile, output.FailedFinalFile, output.SummaryFile,
	} {
		assert.FileExists(t, dir.Path(name))
	}
	assert.NoFileExists(t, dir.BatchFailedFile(1))

	summary, err := progress.ReadSummary(dir.Path(output.SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, "fixed", summary.RunID)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 75.0, summary.SuccessRate)
}

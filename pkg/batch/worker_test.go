package batch

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/intel-batch/pkg/output"
	"github.com/Sternrassler/intel-batch/pkg/retry"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

func TestProcessBatch_FailingItemDoesNotStopBatch(t *testing.T) {
	dir := output.Dir(t.TempDir())
	gate := &countingGate{}
	worker := NewWorker(newTestExecutor(2, gate), dir, nil, zerolog.Nop())

	agent := &scriptedAgent{failing: map[string]bool{"item-3": true}}
	b := work.Batch{Num: 1, Items: makeItems(5)}

	result := worker.ProcessBatch(context.Background(), b, agent)

	assert.Equal(t, []string{"item-1", "item-2", "item-4", "item-5"}, prompts(result.Successes))
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "item-3", result.Failures[0].Item.Prompt)
	assert.ErrorIs(t, result.Failures[0].Err, retry.ErrRetriesExhausted)
	assert.ErrorIs(t, result.Failures[0].Err, errUpstream)
	assert.Equal(t, 3, result.Failures[0].Attempts)
	assert.Equal(t, 3, agent.callCount("item-3"), "maxRetries+1 calls for the failing item")
	assert.Equal(t, int32(4+3), gate.n.Load(), "every attempt passes the gate")

	// Items 1-2 were written individually before item 3 failed; 4-5 afterwards.
	for n := 1; n <= 4; n++ {
		assert.FileExists(t, dir.ItemFile(n, 1))
	}
	assert.NoFileExists(t, dir.ItemFile(5, 1))

	first, err := os.ReadFile(dir.ItemFile(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "prompt\nitem-1\n", string(first))

	failed, err := os.ReadFile(dir.BatchFailedFile(1))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(failed), "item,error\nitem-3,"), "failed file: %q", failed)
	assert.Contains(t, string(failed), errUpstream.Error())

	complete, err := os.ReadFile(dir.BatchCompleteFile(1))
	require.NoError(t, err)
	assert.Equal(t, "prompt\nitem-1\nitem-2\nitem-4\nitem-5\n", string(complete))
}

func TestProcessBatch_NoFailedFileWhenAllSucceed(t *testing.T) {
	dir := output.Dir(t.TempDir())
	worker := NewWorker(newTestExecutor(0, nil), dir, nil, zerolog.Nop())

	result := worker.ProcessBatch(context.Background(), work.Batch{Num: 2, Items: makeItems(2)}, &scriptedAgent{})

	assert.Len(t, result.Successes, 2)
	assert.Empty(t, result.Failures)
	assert.Equal(t, 2, result.Batch)
	assert.FileExists(t, dir.BatchCompleteFile(2))
	assert.NoFileExists(t, dir.BatchFailedFile(2))
}

func TestProcessBatch_RetriesThenSucceeds(t *testing.T) {
	worker := NewWorker(newTestExecutor(3, nil), output.Dir(t.TempDir()), nil, zerolog.Nop())

	calls := 0
	agent := AgentFunc(func(_ context.Context, item work.Item) (work.Record, error) {
		calls++
		if calls <= 2 {
			return nil, errUpstream
		}
		return work.Record{"prompt": item.Prompt}, nil
	})

	result := worker.ProcessBatch(context.Background(), work.Batch{Num: 1, Items: makeItems(1)}, agent)

	require.Len(t, result.Successes, 1)
	assert.Equal(t, 3, result.Successes[0].Attempts)
	assert.Equal(t, 3, calls)
}

func TestProcessBatch_RecoversAgentPanic(t *testing.T) {
	worker := NewWorker(newTestExecutor(1, nil), output.Dir(t.TempDir()), nil, zerolog.Nop())

	agent := AgentFunc(func(_ context.Context, item work.Item) (work.Record, error) {
		if item.Prompt == "item-1" {
			panic("nil map write")
		}
		return work.Record{"prompt": item.Prompt}, nil
	})

	result := worker.ProcessBatch(context.Background(), work.Batch{Num: 1, Items: makeItems(2)}, agent)

	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, ErrAgentPanic)
	assert.Contains(t, result.Failures[0].ErrorMessage(), "nil map write")
	assert.Len(t, result.Successes, 1)
}

func TestProcessBatch_CacheHitSkipsCallAndGate(t *testing.T) {
	gate := &countingGate{}
	cache := newMapCache()
	cache.records["item-1"] = work.Record{"prompt": "item-1", "cached": true}

	worker := NewWorker(newTestExecutor(0, gate), output.Dir(t.TempDir()), cache, zerolog.Nop())
	agent := &scriptedAgent{}

	result := worker.ProcessBatch(context.Background(), work.Batch{Num: 1, Items: makeItems(2)}, agent)

	require.Len(t, result.Successes, 2)
	assert.True(t, result.Successes[0].Cached)
	assert.Equal(t, 0, result.Successes[0].Attempts)
	assert.False(t, result.Successes[1].Cached)

	assert.Equal(t, 0, agent.callCount("item-1"))
	assert.Equal(t, 1, agent.callCount("item-2"))
	assert.Equal(t, int32(1), gate.n.Load(), "a cache hit spends no rate-limit grant")
	assert.Equal(t, 1, cache.stores, "fresh records are stored")
}

func TestProcessBatch_CancelFinishesCurrentItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := output.Dir(t.TempDir())
	worker := NewWorker(newTestExecutor(2, nil), dir, nil, zerolog.Nop())

	attempts := 0
	agent := AgentFunc(func(callCtx context.Context, item work.Item) (work.Record, error) {
		attempts++
		cancel()
		if callCtx.Err() != nil {
			t.Error("call context must not be cancelled mid-item")
		}
		if attempts == 1 {
			return nil, errUpstream
		}
		return work.Record{"prompt": item.Prompt}, nil
	})

	result := worker.ProcessBatch(ctx, work.Batch{Num: 1, Items: makeItems(4)}, agent)

	require.Len(t, result.Successes, 1, "the item in progress completes with its retries")
	assert.Equal(t, "item-1", result.Successes[0].Item.Prompt)
	assert.Equal(t, 2, attempts)

	require.Len(t, result.Failures, 3)
	for _, f := range result.Failures {
		assert.ErrorIs(t, f.Err, ErrCancelled)
	}
	assert.FileExists(t, dir.BatchFailedFile(1))
}

func TestProcessBatch_WriteErrorsAreNotFatal(t *testing.T) {
	dir := output.Dir(t.TempDir() + "/missing")
	worker := NewWorker(newTestExecutor(0, nil), dir, nil, zerolog.Nop())

	result := worker.ProcessBatch(context.Background(), work.Batch{Num: 1, Items: makeItems(3)}, &scriptedAgent{})

	assert.Len(t, result.Successes, 3)
	assert.Equal(t, 3, result.Len())
}

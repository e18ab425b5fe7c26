package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/intel-batch/pkg/retry"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

var errUpstream = errors.New("upstream unavailable")

func newTestExecutor(maxRetries int, gate retry.Gate) *retry.Executor {
	return retry.NewExecutor(retry.Config{
		MaxRetries:      maxRetries,
		InitialDelay:    time.Millisecond,
		ExponentialBase: 2,
	}, gate, zerolog.Nop())
}

// scriptedAgent answers every prompt with a record unless the prompt is
// listed as failing. It detects concurrent use of one instance.
type scriptedAgent struct {
	failing map[string]bool
	onCall  func(item work.Item)

	busy   atomic.Bool
	shared *atomic.Bool

	mu    sync.Mutex
	calls []string
}

func (a *scriptedAgent) Run(_ context.Context, item work.Item) (work.Record, error) {
	if !a.busy.CompareAndSwap(false, true) {
		if a.shared != nil {
			a.shared.Store(true)
		}
	}
	defer a.busy.Store(false)

	a.mu.Lock()
	a.calls = append(a.calls, item.Prompt)
	a.mu.Unlock()

	if a.onCall != nil {
		a.onCall(item)
	}
	if a.failing[item.Prompt] {
		return nil, errUpstream
	}
	return work.Record{"prompt": item.Prompt}, nil
}

func (a *scriptedAgent) callCount(prompt string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, p := range a.calls {
		if p == prompt {
			n++
		}
	}
	return n
}

// memoryStore records what the coordinator persists.
type memoryStore struct {
	mu          sync.Mutex
	snapshots   [][2]int
	finalized   int
	successes   []work.Outcome
	failures    []work.Outcome
	report      work.Report
	snapshotErr error
}

func (s *memoryStore) Snapshot(_ context.Context, successes, failures []work.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return s.snapshotErr
	}
	s.snapshots = append(s.snapshots, [2]int{len(successes), len(failures)})
	return nil
}

func (s *memoryStore) Finalize(_ context.Context, successes, failures []work.Outcome, report work.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized++
	s.successes = append([]work.Outcome(nil), successes...)
	s.failures = append([]work.Outcome(nil), failures...)
	s.report = report
	return nil
}

// mapCache is an in-memory ResultCache.
type mapCache struct {
	mu      sync.Mutex
	records map[string]work.Record
	stores  int
}

func newMapCache() *mapCache {
	return &mapCache{records: make(map[string]work.Record)}
}

func (c *mapCache) Lookup(_ context.Context, item work.Item) (work.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[item.Prompt]
	return r, ok
}

func (c *mapCache) Store(_ context.Context, item work.Item, record work.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[item.Prompt] = record
	c.stores++
}

// countingGate counts acquisitions without delaying.
type countingGate struct {
	n atomic.Int32
}

func (g *countingGate) Acquire(context.Context) error {
	g.n.Add(1)
	return nil
}

func prompts(outcomes []work.Outcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Item.Prompt
	}
	return out
}

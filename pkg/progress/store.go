// Package progress persists the cumulative outcome lists of a run: a progress
// snapshot rewritten after every harvested cohort, and the final output
// written once when the run ends.
package progress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/intel-batch/pkg/output"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

// ErrFinalized is returned by Snapshot and Finalize after Finalize succeeded.
var ErrFinalized = errors.New("progress store already finalized")

// Phases reported to the mirror.
const (
	PhaseRunning = "running"
	PhaseFinal   = "final"
)

var progressWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "intel_progress_writes_total",
	Help: "Total number of progress writes by kind",
}, []string{"kind"}) // "snapshot", "final", "mirror", "mirror_error"

// Store writes progress and final CSV files into a run directory and
// optionally mirrors the counts to a Mirror.
type Store struct {
	dir    output.Dir
	total  int
	mirror Mirror
	logger zerolog.Logger

	mu        sync.Mutex
	finalized bool
}

// Option configures a Store.
type Option func(*Store)

// WithMirror publishes counts to m after every write.
func WithMirror(m Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

// WithTotal sets the item count reported to the mirror.
func WithTotal(total int) Option {
	return func(s *Store) {
		s.total = total
	}
}

// NewStore creates a store for dir. The directory must exist.
func NewStore(dir output.Dir, logger zerolog.Logger, opts ...Option) (*Store, error) {
	info, err := os.Stat(string(dir))
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output directory: %s is not a directory", dir)
	}

	s := &Store{
		dir:    dir,
		logger: logger.With().Str("component", "progress").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot overwrites the progress files with the cumulative lists. Empty
// lists are skipped, leaving any earlier file in place; since the lists only
// grow during a run this never leaves stale data behind. Calling Snapshot
// twice with the same lists produces identical files.
func (s *Store) Snapshot(ctx context.Context, successes, failures []work.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	if len(successes) > 0 {
		if err := output.WriteRecords(s.dir.Path(output.ResultsProgressFile), output.Records(successes)); err != nil {
			return err
		}
	}
	if len(failures) > 0 {
		if err := output.WriteFailures(s.dir.Path(output.FailedProgressFile), failures); err != nil {
			return err
		}
	}
	progressWritesTotal.WithLabelValues("snapshot").Inc()

	s.publish(ctx, Counts{
		Total:       s.total,
		Succeeded:   len(successes),
		Failed:      len(failures),
		BatchesDone: countBatches(successes, failures),
		Phase:       PhaseRunning,
	})
	return nil
}

// Finalize writes both final files, even when empty, plus the run summary.
// No further writes are accepted afterwards.
func (s *Store) Finalize(ctx context.Context, successes, failures []work.Outcome, report work.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	if err := output.WriteRecords(s.dir.Path(output.ResultsFinalFile), output.Records(successes)); err != nil {
		return err
	}
	if err := output.WriteFailures(s.dir.Path(output.FailedFinalFile), failures); err != nil {
		return err
	}
	if err := s.writeSummary(report); err != nil {
		return err
	}

	s.finalized = true
	progressWritesTotal.WithLabelValues("final").Inc()

	total := report.Total
	if total == 0 {
		total = s.total
	}
	s.publish(ctx, Counts{
		Total:       total,
		Succeeded:   len(successes),
		Failed:      len(failures),
		BatchesDone: report.BatchesDone,
		Phase:       PhaseFinal,
	})
	return nil
}

// Finalized reports whether Finalize has completed.
func (s *Store) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Summary is the document written to run_summary.yaml.
type Summary struct {
	work.Report `yaml:",inline"`

	SuccessRate  float64 `yaml:"success_rate"`
	ResultsFile  string  `yaml:"results_file"`
	FailuresFile string  `yaml:"failures_file"`
}

func (s *Store) writeSummary(report work.Report) error {
	summary := Summary{
		Report:       report,
		SuccessRate:  roundTenth(report.SuccessRate()),
		ResultsFile:  output.ResultsFinalFile,
		FailuresFile: output.FailedFinalFile,
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	path := s.dir.Path(output.SummaryFile)
	return output.WriteFileAtomic(path, data)
}

// ReadSummary loads a run_summary.yaml written by Finalize.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

func (s *Store) publish(ctx context.Context, counts Counts) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Publish(ctx, counts); err != nil {
		progressWritesTotal.WithLabelValues("mirror_error").Inc()
		s.logger.Warn().
			Err(err).
			Str("phase", counts.Phase).
			Msg("Failed to mirror progress")
		return
	}
	progressWritesTotal.WithLabelValues("mirror").Inc()
}

func countBatches(lists ...[]work.Outcome) int {
	seen := make(map[int]struct{})
	for _, list := range lists {
		for _, o := range list {
			seen[o.Batch] = struct{}{}
		}
	}
	return len(seen)
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// Package output serializes records and failures to the CSV files that make
// up a run directory, and names those files.
package output

import (
	"fmt"
	"path/filepath"
)

// Cumulative output file names.
const (
	ResultsProgressFile = "all_results_progress.csv"
	FailedProgressFile  = "all_failed_progress.csv"
	ResultsFinalFile    = "all_results_final.csv"
	FailedFinalFile     = "all_failed_final.csv"
	SummaryFile         = "run_summary.yaml"
	LogFile             = "research_processing.log"
)

// Dir names the files of one run directory.
type Dir string

// Path joins name onto the run directory.
func (d Dir) Path(name string) string {
	return filepath.Join(string(d), name)
}

// ItemFile is the per-item file written as soon as an item succeeds.
// n is the item's 1-based position among the batch's successes.
func (d Dir) ItemFile(n, batchNum int) string {
	return d.Path(fmt.Sprintf("company_%d_%d.csv", n, batchNum))
}

// BatchCompleteFile holds all successes of a batch.
func (d Dir) BatchCompleteFile(batchNum int) string {
	return d.Path(fmt.Sprintf("batch_%d_complete.csv", batchNum))
}

// BatchFailedFile holds all failures of a batch.
func (d Dir) BatchFailedFile(batchNum int) string {
	return d.Path(fmt.Sprintf("batch_%d_failed.csv", batchNum))
}

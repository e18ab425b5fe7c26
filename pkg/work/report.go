package work

import (
	"time"
)

// Report summarizes one engine run.
type Report struct {
	RunID string `yaml:"run_id"`

	Total     int `yaml:"total"`
	Succeeded int `yaml:"succeeded"`
	Failed    int `yaml:"failed"`
	// Pending counts items never submitted because the run stopped early.
	Pending int `yaml:"pending"`

	Batches     int `yaml:"batches"`
	BatchesDone int `yaml:"batches_done"`

	Started    time.Time     `yaml:"started"`
	Duration   time.Duration `yaml:"duration"`
	AvgPerItem time.Duration `yaml:"avg_per_item"`

	Interrupted bool `yaml:"interrupted"`
}

// Processed returns the number of items with a terminal outcome.
func (r Report) Processed() int {
	return r.Succeeded + r.Failed
}

// SuccessRate returns the percentage of processed items that succeeded.
func (r Report) SuccessRate() float64 {
	if r.Processed() == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Processed()) * 100
}

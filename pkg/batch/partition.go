package batch

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

// Setup errors. Any of them aborts a run before the first call is made.
var (
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	ErrInvalidWorkers   = errors.New("number of workers must be positive")
	ErrNilFactory       = errors.New("agent factory cannot be nil")
	ErrNilExecutor      = errors.New("retry executor cannot be nil")
	ErrNilStore         = errors.New("progress store cannot be nil")
)

// CountBatches returns ceil(total/size).
func CountBatches(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Partition splits items into contiguous batches of size in input order.
// Only the last batch may be smaller. Batch numbers start at 1.
func Partition(items []work.Item, size int) ([]work.Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, size)
	}

	batches := make([]work.Batch, 0, CountBatches(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, work.Batch{
			Num:   len(batches) + 1,
			Items: items[start:end:end],
		})
	}
	return batches, nil
}

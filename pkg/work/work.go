// Package work defines the units that flow through the batch engine:
// items to enrich, the batches that group them, and the terminal outcome
// recorded for every item.
package work

import (
	"fmt"
)

// Item is one unit of work. It is created when input is loaded and is
// never modified afterwards.
type Item struct {
	// Index is the zero-based position of the item in the input.
	Index int

	// Prompt is the opaque payload handed to the intelligence service.
	Prompt string
}

// String returns the prompt so items read naturally in logs and failure files.
func (i Item) String() string {
	return i.Prompt
}

// Record is the structured answer returned by the intelligence service.
type Record map[string]any

// Batch is an ordered group of items owned by exactly one worker.
type Batch struct {
	// Num is the 1-based batch number, increasing in input order.
	Num int

	// Items are processed in order.
	Items []Item
}

// Len returns the number of items in the batch.
func (b Batch) Len() int {
	return len(b.Items)
}

// Outcome is the terminal result for one item: either a record or an error.
type Outcome struct {
	Item     Item
	Batch    int
	Record   Record
	Err      error
	Attempts int

	// Cached is true when the record was served from the result cache.
	Cached bool
}

// Success builds a successful outcome.
func Success(item Item, batch int, record Record, attempts int) Outcome {
	return Outcome{
		Item:     item,
		Batch:    batch,
		Record:   record,
		Attempts: attempts,
	}
}

// Failure builds a failed outcome. err must not be nil.
func Failure(item Item, batch int, err error, attempts int) Outcome {
	if err == nil {
		err = fmt.Errorf("unknown failure")
	}
	return Outcome{
		Item:     item,
		Batch:    batch,
		Err:      err,
		Attempts: attempts,
	}
}

// Succeeded reports whether the outcome carries a record.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// ErrorMessage returns the failure message, or "" for successes.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

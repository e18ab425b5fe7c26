package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

// FailureHeader is the header row of every failure file.
var FailureHeader = []string{"item", "error"}

// Columns returns the union of keys across records in lexical order.
// Records are maps, so the field order of the service response is not
// available; sorting keeps headers stable across batches and runs.
func Columns(records []work.Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}

	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// EncodeRecords writes records as CSV with one column per distinct key, in
// the order returned by Columns. Records missing a key get an empty cell.
func EncodeRecords(w io.Writer, records []work.Record) error {
	cw := csv.NewWriter(w)
	cols := Columns(records)

	if len(cols) > 0 {
		if err := cw.Write(cols); err != nil {
			return err
		}
	}

	row := make([]string, len(cols))
	for _, r := range records {
		for i, col := range cols {
			cell, err := formatValue(r[col])
			if err != nil {
				return fmt.Errorf("column %q: %w", col, err)
			}
			row[i] = cell
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// EncodeFailures writes failed outcomes as item,error rows.
func EncodeFailures(w io.Writer, failures []work.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FailureHeader); err != nil {
		return err
	}
	for _, f := range failures {
		if err := cw.Write([]string{f.Item.Prompt, f.ErrorMessage()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecords replaces path with the CSV encoding of records.
func WriteRecords(path string, records []work.Record) error {
	var buf bytes.Buffer
	if err := EncodeRecords(&buf, records); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// WriteFailures replaces path with the CSV encoding of failures.
func WriteFailures(path string, failures []work.Outcome) error {
	var buf bytes.Buffer
	if err := EncodeFailures(&buf, failures); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// Records extracts the records of successful outcomes.
func Records(outcomes []work.Outcome) []work.Record {
	records := make([]work.Record, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Succeeded() {
			records = append(records, o.Record)
		}
	}
	return records
}

// formatValue renders one cell. Scalars print plainly, anything nested is
// written as JSON.
func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case json.Number:
		return val.String(), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never see a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Package input loads work items from a CSV file and builds the prompt sent
// to the intelligence service for each row.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

// Recognized input columns.
const (
	NameColumn   = "name"
	DomainColumn = "domain_key"
)

var (
	// ErrMissingColumns is returned when the header has neither a name nor a
	// domain column.
	ErrMissingColumns = errors.New("input must have a name or domain_key column")

	// ErrEmptyRow is returned for a row where both name and domain are blank.
	ErrEmptyRow = errors.New("row has neither name nor domain")
)

// Prompt builds the request text for one company.
func Prompt(name, domain string) (string, error) {
	name = strings.TrimSpace(name)
	domain = strings.TrimSpace(domain)

	switch {
	case name != "" && domain != "":
		return fmt.Sprintf("The company name is %s and the domain is %s", name, domain), nil
	case name != "":
		return fmt.Sprintf("The company name is %s", name), nil
	case domain != "":
		return fmt.Sprintf("The company domain is %s", domain), nil
	default:
		return "", ErrEmptyRow
	}
}

// Load reads items from the CSV file at path.
func Load(path string) ([]work.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	items, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return items, nil
}

// Parse reads items from CSV data with a header row. Items keep the order of
// their rows and are indexed from zero.
func Parse(r io.Reader) ([]work.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrMissingColumns
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	nameCol, domainCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case NameColumn:
			nameCol = i
		case DomainColumn:
			domainCol = i
		}
	}
	if nameCol < 0 && domainCol < 0 {
		return nil, ErrMissingColumns
	}

	var items []work.Item
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		prompt, err := Prompt(field(rec, nameCol), field(rec, domainCol))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		items = append(items, work.Item{Index: len(items), Prompt: prompt})
	}

	return items, nil
}

func field(rec []string, col int) string {
	if col < 0 || col >= len(rec) {
		return ""
	}
	return rec[col]
}

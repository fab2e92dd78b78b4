package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FromCSV reads an OHLCV table with a header row. Header names are matched
// case-insensitively against the base fields; extra columns are loaded as-is
// so precomputed features can ride along.
func FromCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses CSV dataset content from a reader.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	names := make([]string, len(header))
	for i, name := range header {
		names[i] = strings.ToLower(strings.TrimSpace(name))
	}

	columns := make(map[string][]float64, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("csv header has an empty column name")
		}
		if _, dup := columns[name]; dup {
			return nil, fmt.Errorf("csv header repeats column %s", name)
		}
		columns[name] = nil
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		if len(record) != len(names) {
			return nil, fmt.Errorf("csv row %d has %d fields, want %d", row, len(record), len(names))
		}
		for i, raw := range record {
			value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d column %s: %w", row, names[i], err)
			}
			columns[names[i]] = append(columns[names[i]], value)
		}
		row++
	}

	for _, field := range BaseFields() {
		if _, ok := columns[field]; !ok {
			return nil, fmt.Errorf("csv dataset missing required column %s", field)
		}
	}
	return FromColumns(columns)
}

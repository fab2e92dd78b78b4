package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Base fields every market dataset provides before any factor runs.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
)

// FieldPosition is the designated position-signal field. A valid strategy
// graph must contain at least one factor producing it. Values are target
// positions in [-1, 1].
const FieldPosition = "position"

// BaseFields returns the sorted base field names.
func BaseFields() []string {
	return []string{FieldClose, FieldHigh, FieldLow, FieldOpen, FieldVolume}
}

// Dataset is a fixed-length columnar table. Factor transforms read input
// columns and append output columns; they never mutate existing columns.
type Dataset struct {
	rows    int
	columns map[string][]float64
}

// New creates an empty dataset with a fixed row count.
func New(rows int) *Dataset {
	return &Dataset{rows: rows, columns: make(map[string][]float64)}
}

// FromColumns builds a dataset from pre-computed columns. All columns must
// share one length.
func FromColumns(columns map[string][]float64) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataset requires at least one column")
	}
	rows := -1
	for name, values := range columns {
		if rows < 0 {
			rows = len(values)
		}
		if len(values) != rows {
			return nil, fmt.Errorf("column %s length mismatch: got=%d want=%d", name, len(values), rows)
		}
	}
	ds := New(rows)
	for name, values := range columns {
		ds.columns[name] = append([]float64(nil), values...)
	}
	return ds, nil
}

func (d *Dataset) Rows() int {
	return d.rows
}

// Has reports whether a column exists.
func (d *Dataset) Has(name string) bool {
	_, ok := d.columns[name]
	return ok
}

// Column returns a read-only view of a column.
func (d *Dataset) Column(name string) ([]float64, error) {
	values, ok := d.columns[name]
	if !ok {
		return nil, fmt.Errorf("unknown column: %s", name)
	}
	return values, nil
}

// SetColumn appends a new column. Overwriting an existing column is an error;
// duplicate outputs are a structural defect caught at graph validation.
func (d *Dataset) SetColumn(name string, values []float64) error {
	if name == "" {
		return fmt.Errorf("column name is required")
	}
	if len(values) != d.rows {
		return fmt.Errorf("column %s length mismatch: got=%d want=%d", name, len(values), d.rows)
	}
	if _, ok := d.columns[name]; ok {
		return fmt.Errorf("column already exists: %s", name)
	}
	d.columns[name] = values
	return nil
}

// Fields returns all column names in sorted order.
func (d *Dataset) Fields() []string {
	names := make([]string, 0, len(d.columns))
	for name := range d.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies the dataset so pipeline runs never alias shared columns.
func (d *Dataset) Clone() *Dataset {
	out := New(d.rows)
	for name, values := range d.columns {
		out.columns[name] = append([]float64(nil), values...)
	}
	return out
}

// Synthetic generates a deterministic OHLCV random walk for demo runs and
// tests. Prices stay strictly positive.
func Synthetic(rows int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	open := make([]float64, rows)
	high := make([]float64, rows)
	low := make([]float64, rows)
	closes := make([]float64, rows)
	volume := make([]float64, rows)

	price := 100.0
	for i := 0; i < rows; i++ {
		drift := rng.NormFloat64() * 0.01
		open[i] = price
		price = math.Max(1e-6, price*(1+drift))
		closes[i] = price
		spread := math.Abs(rng.NormFloat64()) * 0.005 * price
		high[i] = math.Max(open[i], closes[i]) + spread
		low[i] = math.Max(1e-6, math.Min(open[i], closes[i])-spread)
		volume[i] = 1000 + rng.Float64()*9000
	}

	ds := New(rows)
	ds.columns[FieldOpen] = open
	ds.columns[FieldHigh] = high
	ds.columns[FieldLow] = low
	ds.columns[FieldClose] = closes
	ds.columns[FieldVolume] = volume
	return ds
}

package models

import (
	"fmt"
	"sort"
	"time"
)

// Canonical column names of the prepared table.
const (
	ColumnTime             = "DT_UTC"
	ColumnYear             = "year"
	ColumnLongitude        = "LON"
	ColumnSolarDay         = "yday_frac_solar"
	ColumnSolarHour        = "hour_solar"
	ColumnDeltaUTCSolar    = "delta_utc_solar_h"
	ColumnTemperature      = "T"
	ColumnRelativeHumidity = "RH"
	ColumnSpecificHumidity = "Q"
	ColumnPressure         = "P"
)

type Station struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// Target is a variable fitted independently from the shared feature table.
type Target struct {
	Name  string // column name, e.g. "T"
	Unit  string
	Label string // file-name suffix, e.g. "temperature"
}

var (
	Temperature      = Target{Name: ColumnTemperature, Unit: "degC", Label: "temperature"}
	SpecificHumidity = Target{Name: ColumnSpecificHumidity, Unit: "kg/kg", Label: "specific_humidity"}
	Pressure         = Target{Name: ColumnPressure, Unit: "hPa", Label: "pressure"}
)

func DefaultTargets() []Target {
	return []Target{Temperature, SpecificHumidity, Pressure}
}

func LookupTarget(name string) (Target, bool) {
	for _, t := range DefaultTargets() {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Table is the column-oriented prepared dataset handed over by the feature
// preparer. Time and Year are always row-aligned; numeric columns are added
// with SetColumn and must match the row count.
type Table struct {
	Time    []time.Time
	Year    []int
	columns map[string][]float64
}

// NewTable creates a table over the given UTC timestamps and derives the
// calendar year of each row.
func NewTable(times []time.Time) *Table {
	years := make([]int, len(times))
	for i, ts := range times {
		years[i] = ts.UTC().Year()
	}
	return &Table{
		Time:    times,
		Year:    years,
		columns: make(map[string][]float64),
	}
}

func (t *Table) Len() int {
	return len(t.Time)
}

func (t *Table) SetColumn(name string, values []float64) error {
	if len(values) != t.Len() {
		return fmt.Errorf("%w: column %q has %d rows, table has %d", ErrSchema, name, len(values), t.Len())
	}
	if t.columns == nil {
		t.columns = make(map[string][]float64)
	}
	t.columns[name] = values
	return nil
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns the named numeric column or ErrMissingColumn.
func (t *Table) Column(name string) ([]float64, error) {
	values, ok := t.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return values, nil
}

// Columns lists the numeric column names in sorted order.
func (t *Table) Columns() []string {
	names := make([]string, 0, len(t.columns))
	for name := range t.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	var idx []int
	for i := 0; i < t.Len(); i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}

	out := &Table{
		Time:    make([]time.Time, len(idx)),
		Year:    make([]int, len(idx)),
		columns: make(map[string][]float64, len(t.columns)),
	}
	for j, i := range idx {
		out.Time[j] = t.Time[i]
		out.Year[j] = t.Year[i]
	}
	for name, values := range t.columns {
		col := make([]float64, len(idx))
		for j, i := range idx {
			col[j] = values[i]
		}
		out.columns[name] = col
	}
	return out
}

// TimeRange reports the earliest and latest timestamps in UTC.
func (t *Table) TimeRange() (start, end time.Time, ok bool) {
	for _, ts := range t.Time {
		if ts.IsZero() {
			continue
		}
		if !ok || ts.Before(start) {
			start = ts
		}
		if !ok || ts.After(end) {
			end = ts
		}
		ok = true
	}
	return start.UTC(), end.UTC(), ok
}

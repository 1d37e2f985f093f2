// Package ingest turns raw station files into the prepared table the fitter
// consumes: UTC timestamps, solar-time descriptors and the target variables.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lox/harmoclimate/internal/models"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// compactLayout is the AAAAMMJJHH stamp of Météo-France archives, which
// carries local wall-clock time rather than UTC.
const compactLayout = "2006010215"

// ErrAmbiguousLocalTime is returned for a compact timestamp that falls in the
// repeated hour of a backward clock change.
var ErrAmbiguousLocalTime = errors.New("ambiguous local time")

// ParseTimestamp accepts RFC 3339 and a few zone-less layouts, which are read
// as UTC. Compact AAAAMMJJHH stamps are read as wall-clock time in loc (UTC
// when nil). An hour skipped by a forward clock change shifts to the first
// instant after the gap; an hour repeated by a backward change is rejected.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if wall, err := time.Parse(compactLayout, s); err == nil {
		return localize(wall, loc)
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// localize reinterprets the fields of a UTC-parsed wall clock in loc.
func localize(wall time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return wall, nil
	}
	// time.Date resolves a skipped hour forward past the gap.
	ts := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), 0, 0, 0, loc)
	for _, neighbour := range []time.Time{ts.Add(-time.Hour), ts.Add(time.Hour)} {
		if sameWallHour(neighbour.In(loc), ts) {
			return time.Time{}, fmt.Errorf("%w: %s in %s", ErrAmbiguousLocalTime, wall.Format(compactLayout), loc)
		}
	}
	return ts.UTC(), nil
}

func sameWallHour(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay() && a.Hour() == b.Hour()
}

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	// Comma is the field separator; ',' when zero.
	Comma rune
	// Longitude is used for rows without a LON value.
	Longitude float64
	// Location is the zone of compact AAAAMMJJHH timestamps; UTC when nil.
	Location *time.Location
}

// Dataset is a prepared station table with ingest bookkeeping.
type Dataset struct {
	Table       *models.Table
	DroppedRows int
	Flags       QualityFlags
}

var numericColumns = []string{
	models.ColumnTemperature,
	models.ColumnRelativeHumidity,
	models.ColumnSpecificHumidity,
	models.ColumnPressure,
	models.ColumnLongitude,
}

// ReadCSV parses a header-driven station file. DT_UTC is required; T, P, Q,
// RH and LON are read when present. Unparseable numbers become NaN and rows
// with an unparseable timestamp are dropped. Q is derived from T, RH and P
// when the file carries no Q column.
func ReadCSV(r io.Reader, opts CSVOptions) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s (empty file)", models.ErrMissingColumn, models.ColumnTime)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	timeCol, ok := index[models.ColumnTime]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingColumn, models.ColumnTime)
	}

	present := make([]string, 0, len(numericColumns))
	for _, name := range numericColumns {
		if _, ok := index[name]; ok {
			present = append(present, name)
		}
	}

	var times []time.Time
	values := make(map[string][]float64, len(present))
	dropped := 0
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		ts, err := ParseTimestamp(field(record, timeCol), opts.Location)
		if err != nil {
			dropped++
			continue
		}
		times = append(times, ts)
		for _, name := range present {
			values[name] = append(values[name], parseFloat(field(record, index[name])))
		}
	}

	tbl := models.NewTable(times)
	for _, name := range present {
		if err := tbl.SetColumn(name, values[name]); err != nil {
			return nil, err
		}
	}

	flags := ValidateTable(tbl)
	if err := deriveSpecificHumidity(tbl); err != nil {
		return nil, err
	}
	for flag, n := range ValidateTable(tbl) {
		flags[flag] += n
	}

	if err := addSolarColumns(tbl, opts.Longitude); err != nil {
		return nil, err
	}

	return &Dataset{Table: tbl, DroppedRows: dropped, Flags: flags}, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func deriveSpecificHumidity(t *models.Table) error {
	if t.HasColumn(models.ColumnSpecificHumidity) {
		return nil
	}
	temp, errT := t.Column(models.ColumnTemperature)
	rh, errRH := t.Column(models.ColumnRelativeHumidity)
	pressure, errP := t.Column(models.ColumnPressure)
	if errT != nil || errRH != nil || errP != nil {
		return nil
	}

	q := make([]float64, t.Len())
	for i := range q {
		q[i] = SpecificHumidity(temp[i], rh[i], pressure[i])
	}
	return t.SetColumn(models.ColumnSpecificHumidity, q)
}

func addSolarColumns(t *models.Table, defaultLon float64) error {
	lon, err := t.Column(models.ColumnLongitude)
	if err != nil {
		lon = make([]float64, t.Len())
		for i := range lon {
			lon[i] = math.NaN()
		}
	}

	day := make([]float64, t.Len())
	hour := make([]float64, t.Len())
	delta := make([]float64, t.Len())
	for i, ts := range t.Time {
		l := lon[i]
		if math.IsNaN(l) || math.IsInf(l, 0) {
			l = defaultLon
		}
		st := ComputeSolarTime(ts, l)
		day[i], hour[i], delta[i] = st.Day, st.Hour, st.DeltaUTCHrs
	}

	for name, col := range map[string][]float64{
		models.ColumnSolarDay:      day,
		models.ColumnSolarHour:     hour,
		models.ColumnDeltaUTCSolar: delta,
	} {
		if err := t.SetColumn(name, col); err != nil {
			return err
		}
	}
	return nil
}

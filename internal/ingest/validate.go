package ingest

import (
	"math"

	"github.com/lox/harmoclimate/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagSpecificNegative   = "specific_humidity_negative"
)

type valueRange struct {
	column   string
	flag     string
	min, max float64
}

// Plausible station ranges; values outside are treated as missing.
var physicalRanges = []valueRange{
	{models.ColumnTemperature, FlagTempOutOfRange, -80, 60},
	{models.ColumnRelativeHumidity, FlagHumidityInvalid, 0, 100},
	{models.ColumnPressure, FlagPressureOutOfRange, 300, 1100},
	{models.ColumnSpecificHumidity, FlagSpecificNegative, 0, 0.1},
}

// QualityFlags counts rejected values per flag.
type QualityFlags map[string]int

// Total is the number of rejected values across all flags.
func (q QualityFlags) Total() int {
	n := 0
	for _, c := range q {
		n += c
	}
	return n
}

// ValidateTable replaces physically implausible values with NaN in place and
// reports how many were rejected. Missing columns are skipped.
func ValidateTable(t *models.Table) QualityFlags {
	flags := make(QualityFlags)
	for _, r := range physicalRanges {
		values, err := t.Column(r.column)
		if err != nil {
			continue
		}
		for i, v := range values {
			if math.IsNaN(v) {
				continue
			}
			if v < r.min || v > r.max || math.IsInf(v, 0) {
				values[i] = math.NaN()
				flags[r.flag]++
			}
		}
	}
	return flags
}

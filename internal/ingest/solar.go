package ingest

import (
	"math"
	"time"

	"github.com/lox/harmoclimate/internal/harmonic"
)

// SolarEpoch anchors the continuous solar-day count.
var SolarEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// SolarTime holds the solar descriptors of one observation.
type SolarTime struct {
	Day         float64 // [0, 365.242189)
	Hour        float64 // [0, 24)
	DeltaUTCHrs float64 // longitude / 15
}

// ComputeSolarTime converts a timestamp and station longitude (degrees east)
// to solar coordinates. The day counts whole UTC days since SolarEpoch, wraps
// on the tropical year and is shifted by the longitude fraction of a year.
func ComputeSolarTime(t time.Time, lonDeg float64) SolarTime {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	deltaDays := math.Floor(midnight.Sub(SolarEpoch).Hours()/24 + 0.5)

	day := wrap(deltaDays, harmonic.SolarYearDays)
	day = wrap(day+lonDeg/360*harmonic.SolarYearDays, harmonic.SolarYearDays)

	delta := lonDeg / 15
	hourUTC := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	return SolarTime{
		Day:         day,
		Hour:        wrap(hourUTC+delta, 24),
		DeltaUTCHrs: delta,
	}
}

// wrap returns x modulo period in [0, period), matching floored modulo.
func wrap(x, period float64) float64 {
	r := math.Mod(x, period)
	if r < 0 {
		r += period
	}
	return r
}

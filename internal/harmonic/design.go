package harmonic

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/harmoclimate/internal/models"
)

// SolarYearDays is the tropical year length in days.
const SolarYearDays = 365.242189

var (
	AnnualOmega  = 2.0 * math.Pi / SolarYearDays
	DiurnalOmega = 2.0 * math.Pi / 24.0
)

// maxTrainingDay is the last whole solar day index of the tropical year.
var maxTrainingDay = math.Floor(SolarYearDays)

// Design is a design matrix X with its targets y and the table rows they came from.
type Design struct {
	X      *mat.Dense
	Y      []float64
	Rows   []int
	Layout []ParameterBlock
}

// TrainingDay maps a fractional solar day to the whole-day coordinate used for
// fitting: floor(day), capped at the last whole day of the tropical year.
func TrainingDay(day float64) float64 {
	d := math.Floor(day)
	if d > maxTrainingDay {
		d = maxTrainingDay
	}
	return d
}

// TrainingHour wraps a solar hour into [0, 24).
func TrainingHour(hour float64) float64 {
	h := math.Mod(hour, 24.0)
	if h < 0 {
		h += 24.0
	}
	return h
}

// Build returns the design for every usable row of the table.
func Build(t *models.Table, target string, cfg Config) (*Design, error) {
	return BuildRows(t, target, cfg, nil)
}

// BuildRows returns the design restricted to the candidate table rows (all rows
// when rows is nil). Rows with a non-finite solar day, solar hour or target are
// dropped. ErrInsufficientData is returned when no row survives.
func BuildRows(t *models.Table, target string, cfg Config, rows []int) (*Design, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var missing []string
	columns := make(map[string][]float64, 3)
	for _, name := range []string{models.ColumnSolarDay, models.ColumnSolarHour, target} {
		values, err := t.Column(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		columns[name] = values
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingColumn, strings.Join(missing, ", "))
	}
	days := columns[models.ColumnSolarDay]
	hours := columns[models.ColumnSolarHour]
	values := columns[target]

	if rows == nil {
		rows = make([]int, t.Len())
		for i := range rows {
			rows[i] = i
		}
	}

	kept := make([]int, 0, len(rows))
	for _, i := range rows {
		if isFinite(days[i]) && isFinite(hours[i]) && isFinite(values[i]) {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no usable rows for %s", models.ErrInsufficientData, target)
	}

	layout := cfg.Layout()
	basis := compile(layout)
	p := cfg.NumFeatures()

	data := make([]float64, len(kept)*p)
	y := make([]float64, len(kept))
	for r, i := range kept {
		basis.fill(data[r*p:(r+1)*p], TrainingDay(days[i]), TrainingHour(hours[i]))
		y[r] = values[i]
	}

	return &Design{
		X:      mat.NewDense(len(kept), p, data),
		Y:      y,
		Rows:   kept,
		Layout: layout,
	}, nil
}

// Evaluate computes f(day, hour) for a coefficient vector laid out by layout.
// It returns NaN when the layout does not fit inside coef or a block's length
// disagrees with its annual order.
func Evaluate(coef []float64, layout []ParameterBlock, day, hour float64) float64 {
	p := 0
	for _, b := range layout {
		if b.Start < 0 || b.NAnnual < 0 || b.Length != 1+2*b.NAnnual {
			return math.NaN()
		}
		if end := b.Start + b.Length; end > p {
			p = end
		}
	}
	if p > len(coef) {
		return math.NaN()
	}

	row := make([]float64, p)
	compile(layout).fill(row, day, hour)

	var sum float64
	for j, v := range row {
		sum += coef[j] * v
	}
	return sum
}

type blockBasis struct {
	start   int
	nAnnual int
	order   int  // diurnal harmonic m, 0 for the offset block
	sine    bool // b_m blocks
}

type compiledBasis []blockBasis

func compile(layout []ParameterBlock) compiledBasis {
	out := make(compiledBasis, 0, len(layout))
	for _, b := range layout {
		bb := blockBasis{start: b.Start, nAnnual: b.NAnnual}
		bb.order, bb.sine = b.Diurnal()
		out = append(out, bb)
	}
	return out
}

func (c compiledBasis) fill(dst []float64, day, hour float64) {
	for _, b := range c {
		factor := 1.0
		if b.order > 0 {
			angle := float64(b.order) * DiurnalOmega * hour
			if b.sine {
				factor = math.Sin(angle)
			} else {
				factor = math.Cos(angle)
			}
		}

		seg := dst[b.start : b.start+1+2*b.nAnnual]
		seg[0] = factor
		for k := 1; k <= b.nAnnual; k++ {
			angle := float64(k) * AnnualOmega * day
			seg[2*k-1] = math.Cos(angle) * factor
			seg[2*k] = math.Sin(angle) * factor
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

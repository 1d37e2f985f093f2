package training

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/models"
)

// YearlyDesignStats holds the design rows of one calendar year together with
// their normal-equations contribution. N always equals len(Y) and the row
// count of X; UTCDayIndex and UTCHour are row-aligned with Y.
type YearlyDesignStats struct {
	Year        int
	X           *mat.Dense
	Y           []float64
	S           *mat.SymDense
	B           *mat.VecDense
	N           int
	UTCDayIndex []int
	UTCHour     []int
	Layout      []harmonic.ParameterBlock
}

// NumFeatures is the width of the year's design matrix.
func (s YearlyDesignStats) NumFeatures() int {
	if s.S == nil {
		return 0
	}
	return s.S.SymmetricDim()
}

// ComputeSufficientStats splits the table by UTC calendar year and reduces each
// year to its sufficient statistics. Years with no usable row are omitted and
// the result is ordered by ascending year.
func ComputeSufficientStats(t *models.Table, target string, cfg harmonic.Config) ([]YearlyDesignStats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingColumn, models.ColumnTime)
	}
	if len(t.Year) != t.Len() {
		return nil, fmt.Errorf("%w: %q has %d rows, table has %d", models.ErrSchema, models.ColumnYear, len(t.Year), t.Len())
	}
	for _, name := range []string{models.ColumnSolarDay, models.ColumnSolarHour, target} {
		if _, err := t.Column(name); err != nil {
			return nil, err
		}
	}
	if err := RequireHourly(t.Time); err != nil {
		return nil, err
	}

	byYear := make(map[int][]int)
	for i, year := range t.Year {
		byYear[year] = append(byYear[year], i)
	}
	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	out := make([]YearlyDesignStats, 0, len(years))
	for _, year := range years {
		design, err := harmonic.BuildRows(t, target, cfg, byYear[year])
		if errors.Is(err, models.ErrInsufficientData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", year, err)
		}
		out = append(out, newYearlyStats(year, design, t))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable rows for %s in any year", models.ErrInsufficientData, target)
	}
	return out, nil
}

func newYearlyStats(year int, d *harmonic.Design, t *models.Table) YearlyDesignStats {
	n, p := d.X.Dims()

	s := mat.NewSymDense(p, nil)
	s.SymOuterK(1, d.X.T())

	b := mat.NewVecDense(p, nil)
	b.MulVec(d.X.T(), mat.NewVecDense(n, d.Y))

	days := make([]int, n)
	hours := make([]int, n)
	for r, i := range d.Rows {
		days[r] = NoLeapDayIndex(t.Time[i])
		hours[r] = t.Time[i].UTC().Hour()
	}

	return YearlyDesignStats{
		Year:        year,
		X:           d.X,
		Y:           d.Y,
		S:           s,
		B:           b,
		N:           n,
		UTCDayIndex: days,
		UTCHour:     hours,
		Layout:      d.Layout,
	}
}

// Totals is the sum of the sufficient statistics over a set of years.
type Totals struct {
	S *mat.SymDense
	B *mat.VecDense
	N int
}

// SumStats accumulates S, b and N over stats. Every entry must share the same
// feature count.
func SumStats(stats []YearlyDesignStats) (*Totals, error) {
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: no yearly statistics", models.ErrInsufficientData)
	}
	p := stats[0].NumFeatures()
	if p == 0 {
		return nil, fmt.Errorf("%w: year %d has no features", models.ErrSchema, stats[0].Year)
	}

	tot := &Totals{
		S: mat.NewSymDense(p, nil),
		B: mat.NewVecDense(p, nil),
	}
	for _, st := range stats {
		if st.NumFeatures() != p || st.B == nil || st.B.Len() != p {
			return nil, fmt.Errorf("%w: year %d has %d features, expected %d", models.ErrSchema, st.Year, st.NumFeatures(), p)
		}
		addSym(tot.S, st.S, 1)
		tot.B.AddVec(tot.B, st.B)
		tot.N += st.N
	}
	return tot, nil
}

// Without returns the statistics of every year except st.
func (t *Totals) Without(st YearlyDesignStats) (*mat.SymDense, *mat.VecDense) {
	p := t.S.SymmetricDim()

	s := mat.NewSymDense(p, nil)
	s.CopySym(t.S)
	addSym(s, st.S, -1)

	b := mat.NewVecDense(p, nil)
	b.SubVec(t.B, st.B)
	return s, b
}

// addSym performs dst += sign*a on the upper triangle.
func addSym(dst *mat.SymDense, a mat.Symmetric, sign float64) {
	p := dst.SymmetricDim()
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			dst.SetSym(i, j, dst.At(i, j)+sign*a.At(i, j))
		}
	}
}

package evaluation

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/models"
	"github.com/lox/harmoclimate/internal/training"
)

func hourlyTable(t *testing.T, start, end time.Time, f func(ts time.Time) float64) *models.Table {
	t.Helper()
	var times []time.Time
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		times = append(times, ts)
	}
	return tableAt(t, times, f)
}

// tableAt places solar time on the UTC grid: day is the zero-based day of
// year and hour is the UTC hour.
func tableAt(t *testing.T, times []time.Time, f func(ts time.Time) float64) *models.Table {
	t.Helper()
	tbl := models.NewTable(times)
	day := make([]float64, len(times))
	hour := make([]float64, len(times))
	values := make([]float64, len(times))
	for i, ts := range times {
		day[i] = float64(ts.YearDay() - 1)
		hour[i] = float64(ts.Hour())
		values[i] = f(ts)
	}
	require.NoError(t, tbl.SetColumn(models.ColumnSolarDay, day))
	require.NoError(t, tbl.SetColumn(models.ColumnSolarHour, hour))
	require.NoError(t, tbl.SetColumn(models.ColumnTemperature, values))
	return tbl
}

func yearsOf(start, end int) (time.Time, time.Time) {
	return time.Date(start, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(end+1, 1, 1, 0, 0, 0, 0, time.UTC)
}

func options(cfg harmonic.Config, lambda float64) Options {
	return Options{
		RidgeLambda: lambda,
		Model:       training.NewModelSpec(cfg, lambda),
		Reference:   training.ClimatologyBaseline(),
	}
}

func mustStats(t *testing.T, tbl *models.Table, cfg harmonic.Config) []training.YearlyDesignStats {
	t.Helper()
	stats, err := training.ComputeSufficientStats(tbl, models.ColumnTemperature, cfg)
	require.NoError(t, err)
	return stats
}

func yearMetrics(r training.LeaveOneYearOutReport, year int) (training.YearMetrics, bool) {
	for _, m := range r.Years {
		if m.Year == year {
			return m, true
		}
	}
	return training.YearMetrics{}, false
}

func TestEvaluate_HandComputedFold(t *testing.T) {
	values := map[int][2]float64{2021: {1, 3}, 2022: {2, 4}, 2023: {3, 8}}
	var times []time.Time
	for _, year := range []int{2021, 2022, 2023} {
		times = append(times,
			time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, 1, 1, 1, 0, 0, 0, time.UTC))
	}
	tbl := tableAt(t, times, func(ts time.Time) float64 { return values[ts.Year()][ts.Hour()] })

	// With no harmonics the model is the mean of the training rows.
	cfg, err := harmonic.NewConfig(0, 0, nil)
	require.NoError(t, err)

	report, err := Evaluate(mustStats(t, tbl, cfg), options(cfg, 0))
	require.NoError(t, err)
	require.Len(t, report.Years, 3)

	m, ok := yearMetrics(report, 2021)
	require.True(t, ok)
	model := (2.0 + 4 + 3 + 8) / 4
	ref0, ref1 := (2.0+3)/2, (4.0+8)/2
	wantModel := (math.Pow(model-1, 2) + math.Pow(model-3, 2)) / 2
	wantRef := (math.Pow(ref0-1, 2) + math.Pow(ref1-3, 2)) / 2
	assert.InDelta(t, wantModel, m.MSEModel, 1e-12)
	assert.InDelta(t, wantRef, m.MSERef, 1e-12)
	assert.InDelta(t, math.Sqrt(wantModel), m.RMSE, 1e-12)
	assert.InDelta(t, 1-wantModel/wantRef, m.Skill, 1e-12)
	assert.Equal(t, 2, m.N)

	assert.Equal(t, 6, report.TotalObservations)
	assert.Equal(t, "2021-2023", report.FinalTrainingPeriod)
	assert.Equal(t, EvaluationTimeBase, report.Hyperparameters.EvaluationTimeBase)
	assert.Equal(t, ModelTimeBase, report.Hyperparameters.ModelTimeBase)
	assert.Equal(t, BaselineLabel, report.Hyperparameters.Baseline)
	assert.Equal(t, training.ClimatologyBaseline(), report.Hyperparameters.Reference)
}

func TestEvaluate_FoldsMatchDirectRefit(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	start, end := yearsOf(2021, 2023)
	tbl := hourlyTable(t, start, end, func(ts time.Time) float64 {
		d := float64(ts.YearDay() - 1)
		return 10 + 5*math.Cos(harmonic.AnnualOmega*d) + rng.NormFloat64()
	})
	cfg, err := harmonic.NewConfig(1, 2, nil)
	require.NoError(t, err)
	const lambda = 1.5

	report, err := Evaluate(mustStats(t, tbl, cfg), options(cfg, lambda))
	require.NoError(t, err)
	require.Len(t, report.Years, 3)

	for _, m := range report.Years {
		rest := tbl.Filter(func(i int) bool { return tbl.Year[i] != m.Year })
		held := tbl.Filter(func(i int) bool { return tbl.Year[i] == m.Year })
		fit, err := training.Fit(rest, models.Temperature, cfg, lambda)
		require.NoError(t, err)

		design, err := harmonic.Build(held, models.ColumnTemperature, cfg)
		require.NoError(t, err)
		n, _ := design.X.Dims()
		pred := mat.NewVecDense(n, nil)
		pred.MulVec(design.X, mat.NewVecDense(len(fit.Coefficients()), fit.Coefficients()))

		var sse float64
		for i, y := range design.Y {
			sse += (pred.AtVec(i) - y) * (pred.AtVec(i) - y)
		}
		assert.Equal(t, n, m.N, "year %d", m.Year)
		assert.InDelta(t, sse/float64(n), m.MSEModel, 1e-8, "year %d", m.Year)
	}
}

// Scenario A: a pure annual cycle with noise is recovered by the offset block
// and beats a climatology averaged over only two other years.
func TestEvaluate_AnnualCycleRecovered(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	start, end := yearsOf(2021, 2023)
	tbl := hourlyTable(t, start, end, func(ts time.Time) float64 {
		d := float64(ts.YearDay() - 1)
		return 10 + 5*math.Cos(harmonic.AnnualOmega*d) + 0.5*rng.NormFloat64()
	})
	cfg, err := harmonic.NewConfig(0, 1, nil)
	require.NoError(t, err)

	stats := mustStats(t, tbl, cfg)
	fit, err := training.FitFromStats(stats, models.Temperature, cfg, 0)
	require.NoError(t, err)
	coef := fit.Coefficients()
	assert.InDelta(t, 10, coef[0], 0.05)
	assert.InDelta(t, 5, coef[1], 0.05)
	assert.InDelta(t, 0, coef[2], 0.05)

	report, err := Evaluate(stats, options(cfg, 0))
	require.NoError(t, err)
	assert.Greater(t, report.GlobalSkill, 0.2)
	assert.InDelta(t, 0.5, report.GlobalRMSE, 0.05)
}

// Scenario B: shifting one year by a constant makes that year much harder
// to predict from the others than any normal year.
func TestEvaluate_ShiftedYearScoresWorse(t *testing.T) {
	const shifted = 2022
	rng := rand.New(rand.NewPCG(42, 1))
	start, end := yearsOf(2021, 2024)
	tbl := hourlyTable(t, start, end, func(ts time.Time) float64 {
		d := float64(ts.YearDay() - 1)
		h := float64(ts.Hour())
		v := 10 + 5*math.Cos(harmonic.AnnualOmega*d) + 2*math.Cos(harmonic.DiurnalOmega*h) + 2*rng.NormFloat64()
		if ts.Year() == shifted {
			v += 10
		}
		return v
	})
	cfg, err := harmonic.NewConfig(1, 1, nil)
	require.NoError(t, err)

	report, err := Evaluate(mustStats(t, tbl, cfg), options(cfg, 0))
	require.NoError(t, err)
	require.Len(t, report.Years, 4)

	patho, ok := yearMetrics(report, shifted)
	require.True(t, ok)
	for _, m := range report.Years {
		if m.Year == shifted {
			continue
		}
		assert.Less(t, patho.Skill, m.Skill, "year %d", m.Year)
		assert.Greater(t, patho.RMSE, 2*m.RMSE, "year %d", m.Year)
	}
}

// Scenario C: a year with no usable rows behaves exactly as if it were absent.
func TestEvaluate_EmptyYearIsOmitted(t *testing.T) {
	signal := func(ts time.Time) float64 {
		d := float64(ts.YearDay() - 1)
		h := float64(ts.Hour())
		return 15 + 4*math.Sin(harmonic.AnnualOmega*d) + math.Cos(harmonic.DiurnalOmega*h) + 0.3*math.Sin(float64(ts.Unix()/3600)*1.3)
	}
	start, end := yearsOf(2021, 2023)
	withGap := hourlyTable(t, start, end, func(ts time.Time) float64 {
		if ts.Year() == 2022 {
			return math.NaN()
		}
		return signal(ts)
	})
	without := hourlyTable(t, start, end, signal)
	without = without.Filter(func(i int) bool { return without.Year[i] != 2022 })

	cfg, err := harmonic.NewConfig(1, 1, nil)
	require.NoError(t, err)

	got, err := Evaluate(mustStats(t, withGap, cfg), options(cfg, 0))
	require.NoError(t, err)
	want, err := Evaluate(mustStats(t, without, cfg), options(cfg, 0))
	require.NoError(t, err)

	_, ok := yearMetrics(got, 2022)
	assert.False(t, ok)
	assert.Equal(t, want.Years, got.Years)
	assert.Equal(t, want.GlobalRMSE, got.GlobalRMSE)
	assert.Equal(t, want.GlobalSkill, got.GlobalSkill)
	assert.Equal(t, want.TotalObservations, got.TotalObservations)
}

func TestEvaluate_YearWithoutBaselineRowsIsOmitted(t *testing.T) {
	start, end := yearsOf(2021, 2022)
	tbl := hourlyTable(t, start, end, func(ts time.Time) float64 {
		return 5 + math.Cos(harmonic.AnnualOmega*float64(ts.YearDay()-1))
	})

	// 2024 contributes only leap-day rows, which have no baseline bucket.
	var leap []time.Time
	for h := 0; h < 24; h++ {
		leap = append(leap, time.Date(2024, 2, 29, h, 0, 0, 0, time.UTC))
	}
	leapTbl := tableAt(t, leap, func(time.Time) float64 { return 5 })

	cfg, err := harmonic.NewConfig(0, 1, nil)
	require.NoError(t, err)
	stats := append(mustStats(t, tbl, cfg), mustStats(t, leapTbl, cfg)...)

	report, err := Evaluate(stats, options(cfg, 0))
	require.NoError(t, err)
	assert.Len(t, report.Years, 2)
	_, ok := yearMetrics(report, 2024)
	assert.False(t, ok)
	assert.Equal(t, "2021-2024", report.FinalTrainingPeriod)
}

func TestEvaluate_AllYearsWithoutBaselineGivesNaNGlobals(t *testing.T) {
	// Two years observed at different hours never share a bucket.
	times := []time.Time{
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	tbl := tableAt(t, times, func(ts time.Time) float64 { return float64(ts.Year() - 2020) })
	cfg, err := harmonic.NewConfig(0, 0, nil)
	require.NoError(t, err)

	report, err := Evaluate(mustStats(t, tbl, cfg), options(cfg, 0))
	require.NoError(t, err)
	assert.Empty(t, report.Years)
	assert.Zero(t, report.TotalObservations)
	assert.True(t, math.IsNaN(report.GlobalRMSE))
	assert.True(t, math.IsNaN(report.GlobalSkill))
}

func TestEvaluate_ZeroBaselineErrorGivesNaNSkill(t *testing.T) {
	start, end := yearsOf(2021, 2022)
	tbl := hourlyTable(t, start, end, func(ts time.Time) float64 {
		return 3 + 2*math.Cos(harmonic.AnnualOmega*float64(ts.YearDay()-1))
	})
	cfg, err := harmonic.NewConfig(0, 1, nil)
	require.NoError(t, err)

	report, err := Evaluate(mustStats(t, tbl, cfg), options(cfg, 0))
	require.NoError(t, err)
	require.Len(t, report.Years, 2)
	for _, m := range report.Years {
		assert.InDelta(t, 0, m.MSERef, 1e-20)
		assert.True(t, math.IsNaN(m.Skill))
		assert.InDelta(t, 0, m.RMSE, 1e-6)
	}
	assert.True(t, math.IsNaN(report.GlobalSkill))
}

func TestEvaluate_YearOrderIndependent(t *testing.T) {
	start, end := yearsOf(2020, 2022)
	tbl := hourlyTable(t, start, end, func(ts time.Time) float64 {
		return 1 + math.Sin(float64(ts.Unix()/3600)*0.37) + math.Cos(harmonic.AnnualOmega*float64(ts.YearDay()))
	})
	cfg, err := harmonic.NewConfig(1, 1, nil)
	require.NoError(t, err)

	stats := mustStats(t, tbl, cfg)
	reversed := make([]training.YearlyDesignStats, len(stats))
	for i, st := range stats {
		reversed[len(stats)-1-i] = st
	}

	a, err := Evaluate(stats, options(cfg, 0.1))
	require.NoError(t, err)
	b, err := Evaluate(reversed, options(cfg, 0.1))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEvaluate_RowOrderIndependent(t *testing.T) {
	start, end := yearsOf(2020, 2022)
	var times []time.Time
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		times = append(times, ts)
	}
	value := func(ts time.Time) float64 {
		return 4 + 2*math.Sin(float64(ts.Unix()/3600)*0.37) + 3*math.Cos(harmonic.AnnualOmega*float64(ts.YearDay()))
	}

	shuffled := append([]time.Time(nil), times...)
	rng := rand.New(rand.NewPCG(3, 5))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	cfg, err := harmonic.NewConfig(1, 1, nil)
	require.NoError(t, err)
	ordered, err := Evaluate(mustStats(t, tableAt(t, times, value), cfg), options(cfg, 0.1))
	require.NoError(t, err)
	permuted, err := Evaluate(mustStats(t, tableAt(t, shuffled, value), cfg), options(cfg, 0.1))
	require.NoError(t, err)

	require.Len(t, permuted.Years, len(ordered.Years))
	for i, want := range ordered.Years {
		got := permuted.Years[i]
		assert.Equal(t, want.Year, got.Year)
		assert.Equal(t, want.N, got.N)
		assert.InDelta(t, want.MSEModel, got.MSEModel, 1e-9)
		assert.InDelta(t, want.MSERef, got.MSERef, 1e-9)
		assert.InDelta(t, want.Skill, got.Skill, 1e-9)
	}
	assert.InDelta(t, ordered.GlobalRMSE, permuted.GlobalRMSE, 1e-9)
	assert.InDelta(t, ordered.GlobalSkill, permuted.GlobalSkill, 1e-9)
	assert.Equal(t, ordered.TotalObservations, permuted.TotalObservations)
}

func TestEvaluate_Errors(t *testing.T) {
	cfg, err := harmonic.NewConfig(0, 1, nil)
	require.NoError(t, err)

	_, err = Evaluate(nil, options(cfg, 0))
	require.ErrorIs(t, err, models.ErrInsufficientData)

	start, end := yearsOf(2021, 2021)
	single := mustStats(t, hourlyTable(t, start, end, func(time.Time) float64 { return 1 }), cfg)
	_, err = Evaluate(single, options(cfg, 0))
	require.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = Evaluate(append(single, single...), options(cfg, 0))
	require.ErrorIs(t, err, models.ErrSchema)

	start, end = yearsOf(2022, 2022)
	wider, err := harmonic.NewConfig(1, 1, nil)
	require.NoError(t, err)
	other := mustStats(t, hourlyTable(t, start, end, func(time.Time) float64 { return 1 }), wider)
	_, err = Evaluate(append(single, other...), options(cfg, 0))
	require.ErrorIs(t, err, models.ErrSchema)
}

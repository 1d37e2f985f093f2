// Package evaluation scores harmonic model configurations by leave-one-year-out
// cross-validation against a UTC climatology baseline.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/harmoclimate/internal/models"
	"github.com/lox/harmoclimate/internal/training"
)

const (
	EvaluationTimeBase = "UTC"
	ModelTimeBase      = "solar"
	BaselineLabel      = "climatology_mean per (utc_day, utc_hour), LOYO"
)

// Options controls a leave-one-year-out run. Model and Reference are recorded
// in the report unchanged.
type Options struct {
	RidgeLambda float64
	Model       training.ModelSpec
	Reference   training.BaselineSpec
}

// Evaluate holds out each year in turn, fits on the remaining years through
// the additive statistics and scores the held-out rows against the
// climatology of the remaining years.
//
// A year is skipped when nothing remains to train on. Within a year, rows
// without a baseline bucket (leap day, or a bucket no other year observed)
// are excluded from both MSEs. Years left with no scored row are absent from
// the report.
func Evaluate(stats []training.YearlyDesignStats, opts Options) (training.LeaveOneYearOutReport, error) {
	if len(stats) == 0 {
		return training.LeaveOneYearOutReport{}, fmt.Errorf("%w: no yearly statistics", models.ErrInsufficientData)
	}

	ordered := append([]training.YearlyDesignStats(nil), stats...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Year < ordered[j].Year })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Year == ordered[i-1].Year {
			return training.LeaveOneYearOutReport{}, fmt.Errorf("%w: duplicate statistics for year %d", models.ErrSchema, ordered[i].Year)
		}
	}
	for _, st := range ordered {
		if len(st.UTCDayIndex) != st.N || len(st.UTCHour) != st.N || len(st.Y) != st.N {
			return training.LeaveOneYearOutReport{}, fmt.Errorf("%w: year %d rows are not aligned", models.ErrSchema, st.Year)
		}
	}

	totals, err := training.SumStats(ordered)
	if err != nil {
		return training.LeaveOneYearOutReport{}, err
	}

	yearly := make([]*climatology, len(ordered))
	all := new(climatology)
	for i, st := range ordered {
		yearly[i] = new(climatology)
		yearly[i].addYear(st)
		all.merge(yearly[i])
	}

	report := training.LeaveOneYearOutReport{
		Years:       make([]training.YearMetrics, 0, len(ordered)),
		RidgeLambda: opts.RidgeLambda,
		Hyperparameters: training.Hyperparameters{
			Model:              opts.Model,
			Reference:          opts.Reference,
			EvaluationTimeBase: EvaluationTimeBase,
			ModelTimeBase:      ModelTimeBase,
			Baseline:           BaselineLabel,
		},
		FinalTrainingPeriod: periodLabel(ordered),
	}

	fitted := 0
	for i, st := range ordered {
		if totals.N-st.N <= 0 {
			continue
		}
		s, b := totals.Without(st)
		beta, err := training.SolveNormalEquations(s, b, opts.RidgeLambda)
		if err != nil {
			return training.LeaveOneYearOutReport{}, fmt.Errorf("year %d: %w", st.Year, err)
		}
		fitted++

		if m, ok := scoreYear(st, beta, all, yearly[i]); ok {
			report.Years = append(report.Years, m)
		}
	}
	if fitted == 0 {
		return training.LeaveOneYearOutReport{}, fmt.Errorf("%w: at least two years are needed for leave-one-year-out", models.ErrInsufficientData)
	}

	mseModel, mseRef, n := report.Pooled()
	report.TotalObservations = n
	report.GlobalRMSE = math.NaN()
	report.GlobalSkill = math.NaN()
	if n > 0 {
		report.GlobalRMSE = math.Sqrt(mseModel)
		report.GlobalSkill = skill(mseModel, mseRef)
	}
	return report, nil
}

func scoreYear(st training.YearlyDesignStats, beta mat.Vector, all, held *climatology) (training.YearMetrics, bool) {
	pred := mat.NewVecDense(st.N, nil)
	pred.MulVec(st.X, beta)

	var sumModel, sumRef float64
	n := 0
	for i, y := range st.Y {
		k, ok := bucket(st.UTCDayIndex[i], st.UTCHour[i])
		if !ok {
			continue
		}
		ref, ok := all.meanExcluding(held, k)
		if !ok {
			continue
		}
		p := pred.AtVec(i)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		sumModel += (p - y) * (p - y)
		sumRef += (ref - y) * (ref - y)
		n++
	}
	if n == 0 {
		return training.YearMetrics{}, false
	}

	mseModel := sumModel / float64(n)
	mseRef := sumRef / float64(n)
	return training.YearMetrics{
		Year:     st.Year,
		MSEModel: mseModel,
		MSERef:   mseRef,
		RMSE:     math.Sqrt(mseModel),
		Skill:    skill(mseModel, mseRef),
		N:        n,
	}, true
}

func skill(mseModel, mseRef float64) float64 {
	if !(mseRef > 0) {
		return math.NaN()
	}
	return 1 - mseModel/mseRef
}

func periodLabel(ordered []training.YearlyDesignStats) string {
	first, last := ordered[0].Year, ordered[len(ordered)-1].Year
	if first == last {
		return fmt.Sprintf("%d", first)
	}
	return fmt.Sprintf("%d-%d", first, last)
}

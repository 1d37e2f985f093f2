package training

import (
	"math"

	"github.com/lox/harmoclimate/internal/harmonic"
)

// YearMetrics is the held-out score of one calendar year.
type YearMetrics struct {
	Year     int
	MSEModel float64
	MSERef   float64
	RMSE     float64
	Skill    float64 // 1 - MSEModel/MSERef, NaN when MSERef <= 0
	N        int
}

// ModelSpec records the harmonic orders and ridge strength that were validated.
type ModelSpec struct {
	NDiurnal       int
	DefaultNAnnual int
	AnnualPerParam harmonic.AnnualOrders
	RidgeLambda    float64
}

// NewModelSpec snapshots cfg and lambda.
func NewModelSpec(cfg harmonic.Config, lambda float64) ModelSpec {
	c := cfg.Clone()
	if c.AnnualPerParam == nil {
		c.AnnualPerParam = harmonic.AnnualOrders{}
	}
	return ModelSpec{
		NDiurnal:       c.NDiurnal,
		DefaultNAnnual: c.DefaultNAnnual,
		AnnualPerParam: c.AnnualPerParam,
		RidgeLambda:    lambda,
	}
}

// BaselineSpec describes the reference forecast. It is informational only.
type BaselineSpec struct {
	Type        string
	TimeBasis   string
	Calendar    string
	Grouping    string
	Exclusion   string
	HoursPerDay int
	DaysPerYear int
}

// ClimatologyBaseline is the UTC no-leap climatology the models are scored against.
func ClimatologyBaseline() BaselineSpec {
	return BaselineSpec{
		Type:        "climatology_mean",
		TimeBasis:   "UTC",
		Calendar:    "no-leap",
		Grouping:    "utc_day_of_year × utc_hour",
		Exclusion:   "held-out year",
		HoursPerDay: HoursPerDay,
		DaysPerYear: DaysPerNoLeapYear,
	}
}

// Hyperparameters is the configuration snapshot stored alongside a report.
type Hyperparameters struct {
	Model              ModelSpec
	Reference          BaselineSpec
	EvaluationTimeBase string
	ModelTimeBase      string
	Baseline           string
}

// LeaveOneYearOutReport aggregates per-year held-out scores. Years with no
// valid held-out row are absent from Years.
type LeaveOneYearOutReport struct {
	Years               []YearMetrics
	GlobalRMSE          float64
	GlobalSkill         float64
	TotalObservations   int // scored held-out rows across Years
	RidgeLambda         float64
	Hyperparameters     Hyperparameters
	FinalTrainingPeriod string
}

// Pooled returns the N-weighted mean squared errors over Years. Both are NaN
// when no year carries observations.
func (r LeaveOneYearOutReport) Pooled() (mseModel, mseRef float64, n int) {
	var sumModel, sumRef float64
	for _, y := range r.Years {
		sumModel += y.MSEModel * float64(y.N)
		sumRef += y.MSERef * float64(y.N)
		n += y.N
	}
	if n == 0 {
		return math.NaN(), math.NaN(), 0
	}
	return sumModel / float64(n), sumRef / float64(n), n
}

func (r LeaveOneYearOutReport) clone() LeaveOneYearOutReport {
	out := r
	out.Years = append([]YearMetrics(nil), r.Years...)
	out.Hyperparameters.Model.AnnualPerParam = harmonic.Config{AnnualPerParam: r.Hyperparameters.Model.AnnualPerParam}.Clone().AnnualPerParam
	return out
}

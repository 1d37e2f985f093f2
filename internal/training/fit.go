package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/models"
)

// FitResult is a fitted harmonic model for one target. It is never modified
// after construction; accessors hand out copies.
type FitResult struct {
	target       models.Target
	coef         []float64
	layout       []harmonic.ParameterBlock
	config       harmonic.Config
	ridgeLambda  float64
	metrics      ErrorMetrics
	observations int
}

func (f FitResult) Target() models.Target { return f.target }
func (f FitResult) RidgeLambda() float64  { return f.ridgeLambda }
func (f FitResult) Metrics() ErrorMetrics { return f.metrics }
func (f FitResult) Observations() int     { return f.observations }
func (f FitResult) NDiurnal() int         { return f.config.NDiurnal }
func (f FitResult) Config() harmonic.Config {
	return f.config.Clone()
}

func (f FitResult) Coefficients() []float64 {
	return append([]float64(nil), f.coef...)
}

func (f FitResult) Layout() []harmonic.ParameterBlock {
	return append([]harmonic.ParameterBlock(nil), f.layout...)
}

// Predict evaluates the model at a solar day and hour.
func (f FitResult) Predict(day, hour float64) float64 {
	return harmonic.Evaluate(f.coef, f.layout, day, hour)
}

// Fit builds the design for the whole table and solves the (ridge) normal
// equations in one pass.
func Fit(t *models.Table, target models.Target, cfg harmonic.Config, lambda float64) (FitResult, error) {
	design, err := harmonic.Build(t, target.Name, cfg)
	if err != nil {
		return FitResult{}, err
	}
	n, p := design.X.Dims()

	s := mat.NewSymDense(p, nil)
	s.SymOuterK(1, design.X.T())
	b := mat.NewVecDense(p, nil)
	b.MulVec(design.X.T(), mat.NewVecDense(n, design.Y))

	beta, err := SolveNormalEquations(s, b, lambda)
	if err != nil {
		return FitResult{}, fmt.Errorf("fit %s: %w", target.Name, err)
	}
	residuals := appendResiduals(nil, design.X, design.Y, beta)
	return newFitResult(target, cfg, lambda, beta, design.Layout, residuals), nil
}

// FitFromStats solves the normal equations summed over every year and scores
// the solution on the rows those years were built from.
func FitFromStats(stats []YearlyDesignStats, target models.Target, cfg harmonic.Config, lambda float64) (FitResult, error) {
	if err := cfg.Validate(); err != nil {
		return FitResult{}, err
	}
	totals, err := SumStats(stats)
	if err != nil {
		return FitResult{}, err
	}
	if p := cfg.NumFeatures(); totals.S.SymmetricDim() != p {
		return FitResult{}, fmt.Errorf("%w: statistics have %d features, configuration has %d", models.ErrSchema, totals.S.SymmetricDim(), p)
	}

	beta, err := SolveNormalEquations(totals.S, totals.B, lambda)
	if err != nil {
		return FitResult{}, fmt.Errorf("fit %s: %w", target.Name, err)
	}

	residuals := make([]float64, 0, totals.N)
	for _, st := range stats {
		residuals = appendResiduals(residuals, st.X, st.Y, beta)
	}
	return newFitResult(target, cfg, lambda, beta, cfg.Layout(), residuals), nil
}

func appendResiduals(dst []float64, x mat.Matrix, y []float64, beta mat.Vector) []float64 {
	n, _ := x.Dims()
	pred := mat.NewVecDense(n, nil)
	pred.MulVec(x, beta)
	for i := 0; i < n; i++ {
		dst = append(dst, y[i]-pred.AtVec(i))
	}
	return dst
}

func newFitResult(target models.Target, cfg harmonic.Config, lambda float64, beta *mat.VecDense, layout []harmonic.ParameterBlock, residuals []float64) FitResult {
	coef := make([]float64, beta.Len())
	for i := range coef {
		coef[i] = beta.AtVec(i)
	}
	return FitResult{
		target:       target,
		coef:         coef,
		layout:       append([]harmonic.ParameterBlock(nil), layout...),
		config:       cfg.Clone(),
		ridgeLambda:  lambda,
		metrics:      ComputeErrorMetrics(residuals),
		observations: len(residuals),
	}
}

// ValidatedFitResult pairs a fit with the leave-one-year-out report that
// scored its configuration.
type ValidatedFitResult struct {
	FitResult
	report LeaveOneYearOutReport
}

// Validate attaches report to fit, producing a new value.
func Validate(fit FitResult, report LeaveOneYearOutReport) ValidatedFitResult {
	return ValidatedFitResult{FitResult: fit, report: report.clone()}
}

func (v ValidatedFitResult) Report() LeaveOneYearOutReport {
	return v.report.clone()
}

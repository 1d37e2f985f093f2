package training

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrorMetrics summarises in-sample residuals (observation minus prediction).
type ErrorMetrics struct {
	MAE  float64
	Bias float64
	P05  float64
	P95  float64
}

// ComputeErrorMetrics ignores non-finite residuals. All fields are NaN when
// nothing finite remains.
func ComputeErrorMetrics(residuals []float64) ErrorMetrics {
	valid := make([]float64, 0, len(residuals))
	abs := make([]float64, 0, len(residuals))
	for _, r := range residuals {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		valid = append(valid, r)
		abs = append(abs, math.Abs(r))
	}
	if len(valid) == 0 {
		nan := math.NaN()
		return ErrorMetrics{MAE: nan, Bias: nan, P05: nan, P95: nan}
	}

	sort.Float64s(valid)
	return ErrorMetrics{
		MAE:  stat.Mean(abs, nil),
		Bias: stat.Mean(valid, nil),
		P05:  quantile(valid, 0.05),
		P95:  quantile(valid, 0.95),
	}
}

// quantile interpolates linearly between the order statistics around
// h = (n-1)p of a sorted, non-empty slice (Hyndman-Fan type 7).
func quantile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

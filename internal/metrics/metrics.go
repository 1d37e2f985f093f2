package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one training run. Each run owns its
// registry so batch results can be written out as a node-exporter textfile.
type Metrics struct {
	registry *prometheus.Registry

	TrainingRows     *prometheus.GaugeVec
	FitMAE           *prometheus.GaugeVec
	LOYOGlobalRMSE   *prometheus.GaugeVec
	LOYOGlobalSkill  *prometheus.GaugeVec
	LOYOYearsTotal   *prometheus.GaugeVec
	StageDuration    *prometheus.HistogramVec
	LastRunTimestamp prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TrainingRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harmoclimate_training_rows",
				Help: "Usable rows in the final fit",
			},
			[]string{"target"},
		),
		FitMAE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harmoclimate_fit_mae",
				Help: "In-sample mean absolute error of the final fit",
			},
			[]string{"target"},
		),
		LOYOGlobalRMSE: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harmoclimate_loyo_global_rmse",
				Help: "Observation-weighted leave-one-year-out RMSE",
			},
			[]string{"target"},
		),
		LOYOGlobalSkill: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harmoclimate_loyo_global_skill",
				Help: "Leave-one-year-out skill against the UTC climatology",
			},
			[]string{"target"},
		),
		LOYOYearsTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harmoclimate_loyo_years_total",
				Help: "Years scored by leave-one-year-out validation",
			},
			[]string{"target"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harmoclimate_stage_duration_seconds",
				Help:    "Wall time of each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "harmoclimate_last_run_timestamp_seconds",
				Help: "Unix time the run finished",
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a named stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile atomically writes every collector in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Package pipeline runs a training job: it reads a station dataset, fits one
// harmonic model per target, validates each fit year by year and publishes the
// artefacts, the run archive and the batch metrics.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/lox/harmoclimate/internal/config"
	"github.com/lox/harmoclimate/internal/evaluation"
	"github.com/lox/harmoclimate/internal/export"
	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/ingest"
	"github.com/lox/harmoclimate/internal/metrics"
	"github.com/lox/harmoclimate/internal/models"
	"github.com/lox/harmoclimate/internal/store"
	"github.com/lox/harmoclimate/internal/training"
)

// Stage names recorded in harmoclimate_stage_duration_seconds.
const (
	StageLoad   = "load"
	StageStats  = "stats"
	StageFit    = "fit"
	StageLOYO   = "loyo"
	StageExport = "export"
)

type Runner struct {
	cfg     *config.Config
	harm    harmonic.Config
	targets []models.Target
	log     logrus.FieldLogger
	clock   clockwork.Clock
	fetcher *ingest.Fetcher
	store   *store.Store
	metrics *metrics.Metrics
	local   *time.Location
}

// New validates cfg and returns a runner without an archive or metrics.
func New(cfg *config.Config, log logrus.FieldLogger, clock clockwork.Clock) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	harm, err := cfg.HarmonicConfig()
	if err != nil {
		return nil, err
	}
	targets, err := cfg.ResolveTargets()
	if err != nil {
		return nil, err
	}
	local, err := cfg.LocalLocation()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		cfg:     cfg,
		harm:    harm,
		targets: targets,
		log:     log.WithField("component", "pipeline"),
		clock:   clock,
		fetcher: ingest.NewFetcher(cfg.Ingest.Timeout, cfg.Ingest.MaxElapsed),
		local:   local,
	}, nil
}

// SetStore archives every run in s.
func (r *Runner) SetStore(s *store.Store) {
	r.store = s
}

// SetMetrics records stage timings and fit quality in m.
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// SetFetcher replaces the dataset fetcher.
func (r *Runner) SetFetcher(f *ingest.Fetcher) {
	r.fetcher = f
}

// TargetResult is one published model.
type TargetResult struct {
	Fit       training.ValidatedFitResult
	Artifacts export.Artifacts
}

// Result summarises a completed run.
type Result struct {
	RunID       string
	Rows        int
	DroppedRows int
	Flags       ingest.QualityFlags
	Targets     []TargetResult
	Header      string
}

// Run trains every configured target from the dataset at source, a local path
// or an http(s) URL. The run is archived as failed when any target fails.
func (r *Runner) Run(ctx context.Context, source string) (res *Result, err error) {
	log := r.log.WithField("source", source)

	var run *store.TrainingRun
	if r.store != nil {
		cfgJSON, jerr := json.Marshal(r.cfg)
		if jerr != nil {
			return nil, fmt.Errorf("encode config: %w", jerr)
		}
		run, err = r.store.StartRun(r.cfg.Station.Code, r.cfg.Station.Name, source, string(cfgJSON))
		if err != nil {
			return nil, err
		}
		log = log.WithField("run_id", run.ID)
		defer func() {
			run.Success = err == nil
			if err != nil {
				run.ErrorMessage.String, run.ErrorMessage.Valid = err.Error(), true
			}
			if cerr := r.store.CompleteRun(run); cerr != nil {
				log.WithError(cerr).Warn("failed to complete run record")
			}
		}()
	}

	res = &Result{}
	if run != nil {
		res.RunID = run.ID
	}

	ds, err := r.load(ctx, source)
	if err != nil {
		return nil, err
	}
	res.Rows = ds.Table.Len()
	res.DroppedRows = ds.DroppedRows
	res.Flags = ds.Flags
	log.WithFields(logrus.Fields{
		"rows":     res.Rows,
		"dropped":  ds.DroppedRows,
		"rejected": ds.Flags.Total(),
	}).Info("dataset loaded")

	meta := export.Metadata{
		Version:     r.cfg.Output.Version,
		Country:     r.cfg.Station.Country,
		GeneratedAt: r.clock.Now().UTC(),
		Station:     r.cfg.StationInfo(),
	}
	if start, end, ok := ds.Table.TimeRange(); ok {
		meta.SourceStart, meta.SourceEnd = start, end
	}

	for _, target := range r.targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tr, err := r.trainTarget(ds.Table, target, meta, res.RunID)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Name, err)
		}
		res.Targets = append(res.Targets, tr)
	}

	if res.Header, err = r.writeHeader(res.Targets, meta); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	if r.metrics != nil {
		r.metrics.LastRunTimestamp.Set(float64(r.clock.Now().Unix()))
		if path := r.cfg.Output.MetricsTextfile; path != "" {
			if err := r.metrics.WriteTextfile(path); err != nil {
				return nil, fmt.Errorf("write metrics: %w", err)
			}
		}
	}
	log.WithField("targets", len(res.Targets)).Info("training run complete")
	return res, nil
}

func (r *Runner) load(ctx context.Context, source string) (*ingest.Dataset, error) {
	defer r.observe(StageLoad, r.clock.Now())

	rc, err := r.fetcher.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ingest.ReadCSV(rc, ingest.CSVOptions{
		Comma:     r.cfg.SeparatorRune(),
		Longitude: r.cfg.Station.Longitude,
		Location:  r.local,
	})
}

// Train fits and validates one target from a prepared table. The yearly
// statistics are accumulated once and shared by the final fit and the
// leave-one-year-out evaluation.
func (r *Runner) Train(tbl *models.Table, target models.Target) (training.ValidatedFitResult, error) {
	log := r.log.WithField("target", target.Name)
	lambda := r.cfg.Model.RidgeLambda

	start := r.clock.Now()
	stats, err := training.ComputeSufficientStats(tbl, target.Name, r.harm)
	r.observe(StageStats, start)
	if err != nil {
		return training.ValidatedFitResult{}, err
	}

	start = r.clock.Now()
	fit, err := training.FitFromStats(stats, target, r.harm, lambda)
	r.observe(StageFit, start)
	if err != nil {
		return training.ValidatedFitResult{}, err
	}
	m := fit.Metrics()
	log.WithFields(logrus.Fields{
		"rows":  fit.Observations(),
		"years": len(stats),
		"mae":   m.MAE,
		"bias":  m.Bias,
	}).Info("final model fitted")

	start = r.clock.Now()
	report, err := evaluation.Evaluate(stats, evaluation.Options{
		RidgeLambda: lambda,
		Model:       training.NewModelSpec(r.harm, lambda),
		Reference:   training.ClimatologyBaseline(),
	})
	r.observe(StageLOYO, start)
	if err != nil {
		return training.ValidatedFitResult{}, err
	}
	for _, y := range report.Years {
		log.WithFields(logrus.Fields{
			"year":  y.Year,
			"rows":  y.N,
			"rmse":  y.RMSE,
			"skill": y.Skill,
		}).Debug("held-out year scored")
	}
	log.WithFields(logrus.Fields{
		"rmse":  report.GlobalRMSE,
		"skill": report.GlobalSkill,
		"rows":  report.TotalObservations,
	}).Info("leave-one-year-out validation complete")

	if r.metrics != nil {
		r.metrics.TrainingRows.WithLabelValues(target.Name).Set(float64(fit.Observations()))
		r.metrics.FitMAE.WithLabelValues(target.Name).Set(m.MAE)
		r.metrics.LOYOGlobalRMSE.WithLabelValues(target.Name).Set(report.GlobalRMSE)
		r.metrics.LOYOGlobalSkill.WithLabelValues(target.Name).Set(report.GlobalSkill)
		r.metrics.LOYOYearsTotal.WithLabelValues(target.Name).Set(float64(len(report.Years)))
	}

	return training.Validate(fit, report), nil
}

func (r *Runner) trainTarget(tbl *models.Table, target models.Target, meta export.Metadata, runID string) (TargetResult, error) {
	validated, err := r.Train(tbl, target)
	if err != nil {
		return TargetResult{}, err
	}

	start := r.clock.Now()
	artifacts, err := export.WriteValidated(r.cfg.Output.Dir, validated, meta)
	r.observe(StageExport, start)
	if err != nil {
		return TargetResult{}, err
	}
	r.log.WithFields(logrus.Fields{
		"target": target.Name,
		"model":  artifacts.Model,
	}).Info("model written")

	if r.store != nil {
		report := validated.Report()
		if err := r.store.InsertFit(store.ModelFit{
			RunID:        runID,
			Target:       target.Name,
			Observations: validated.Observations(),
			Metrics:      validated.Metrics(),
			LOYORMSE:     report.GlobalRMSE,
			LOYOSkill:    report.GlobalSkill,
			RidgeLambda:  validated.RidgeLambda(),
			Coefficients: validated.Coefficients(),
		}, report.Years); err != nil {
			return TargetResult{}, err
		}
	}
	return TargetResult{Fit: validated, Artifacts: artifacts}, nil
}

// writeHeader renders every published model into one C++ header.
func (r *Runner) writeHeader(targets []TargetResult, meta export.Metadata) (string, error) {
	defer r.observe(StageExport, r.clock.Now())

	payloads := make([]export.ModelPayload, len(targets))
	for i, t := range targets {
		payloads[i] = export.NewModelPayload(t.Fit.FitResult, meta)
	}
	path := filepath.Join(r.cfg.Output.Dir, export.TemplatesDir, export.HeaderFileName(meta.Country, meta.Station.Name))
	if err := export.WriteHeaderFile(path, payloads); err != nil {
		return "", err
	}
	r.log.WithField("path", path).Info("header written")
	return path, nil
}

func (r *Runner) observe(stage string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveStage(stage, r.clock.Since(start))
	}
}

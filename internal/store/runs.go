package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/harmoclimate/internal/training"
)

// TrainingRun is one invocation of the training pipeline.
type TrainingRun struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	StationCode  string
	StationName  string
	DataSource   string
	ConfigJSON   string
	Success      bool
	ErrorMessage sql.NullString
}

// ModelFit is the archived summary of one target's validated fit.
type ModelFit struct {
	RunID        string
	Target       string
	Observations int
	Metrics      training.ErrorMetrics
	LOYORMSE     float64
	LOYOSkill    float64
	RidgeLambda  float64
	Coefficients []float64
}

// StartRun records a new run and returns it with a fresh ID.
func (s *Store) StartRun(stationCode, stationName, dataSource, configJSON string) (*TrainingRun, error) {
	run := &TrainingRun{
		ID:          uuid.NewString(),
		StartedAt:   s.clock.Now().UTC(),
		StationCode: stationCode,
		StationName: stationName,
		DataSource:  dataSource,
		ConfigJSON:  configJSON,
	}

	_, err := s.db.Exec(`
		INSERT INTO training_runs (id, started_at, station_code, station_name, data_source, config_json, success)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.StartedAt, run.StationCode, run.StationName, run.DataSource, run.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CompleteRun stamps the finish time and outcome.
func (s *Store) CompleteRun(run *TrainingRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE training_runs SET finished_at = ?, success = ?, error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Success, run.ErrorMessage, run.ID)
	return err
}

// InsertFit stores a fit summary and its per-year scores in one transaction.
func (s *Store) InsertFit(fit ModelFit, years []training.YearMetrics) error {
	coef, err := json.Marshal(fit.Coefficients)
	if err != nil {
		return fmt.Errorf("encode coefficients: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO model_fits (run_id, target, n_observations, mae, bias, err_p05, err_p95, loyo_rmse, loyo_skill, ridge_lambda, coefficients_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fit.RunID, fit.Target, fit.Observations,
		nullFloat(fit.Metrics.MAE), nullFloat(fit.Metrics.Bias), nullFloat(fit.Metrics.P05), nullFloat(fit.Metrics.P95),
		nullFloat(fit.LOYORMSE), nullFloat(fit.LOYOSkill), fit.RidgeLambda, string(coef)); err != nil {
		return fmt.Errorf("insert fit %s: %w", fit.Target, err)
	}

	for _, y := range years {
		if _, err := tx.Exec(`
			INSERT INTO loyo_years (run_id, target, year, mse_model, mse_ref, rmse, skill, n)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, fit.RunID, fit.Target, y.Year, nullFloat(y.MSEModel), nullFloat(y.MSERef), nullFloat(y.RMSE), nullFloat(y.Skill), y.N); err != nil {
			return fmt.Errorf("insert year %d for %s: %w", y.Year, fit.Target, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]TrainingRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, station_code, station_name, data_source, config_json, success, error_message
		FROM training_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		var r TrainingRun
		var code, source, cfg sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &code, &r.StationName, &source, &cfg, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StationCode, r.DataSource, r.ConfigJSON = code.String, source.String, cfg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetFits returns the fits stored for a run, ordered by target.
func (s *Store) GetFits(runID string) ([]ModelFit, error) {
	rows, err := s.db.Query(`
		SELECT target, n_observations, mae, bias, err_p05, err_p95, loyo_rmse, loyo_skill, ridge_lambda, coefficients_json
		FROM model_fits
		WHERE run_id = ?
		ORDER BY target
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fits []ModelFit
	for rows.Next() {
		f := ModelFit{RunID: runID}
		var mae, bias, p05, p95, rmse, skill sql.NullFloat64
		var coef string
		if err := rows.Scan(&f.Target, &f.Observations, &mae, &bias, &p05, &p95, &rmse, &skill, &f.RidgeLambda, &coef); err != nil {
			return nil, err
		}
		f.Metrics = training.ErrorMetrics{MAE: floatOrNaN(mae), Bias: floatOrNaN(bias), P05: floatOrNaN(p05), P95: floatOrNaN(p95)}
		f.LOYORMSE, f.LOYOSkill = floatOrNaN(rmse), floatOrNaN(skill)
		if err := json.Unmarshal([]byte(coef), &f.Coefficients); err != nil {
			return nil, fmt.Errorf("decode coefficients for %s: %w", f.Target, err)
		}
		fits = append(fits, f)
	}
	return fits, rows.Err()
}

// GetYearMetrics returns a run's per-year scores for one target in year order.
func (s *Store) GetYearMetrics(runID, target string) ([]training.YearMetrics, error) {
	rows, err := s.db.Query(`
		SELECT year, mse_model, mse_ref, rmse, skill, n
		FROM loyo_years
		WHERE run_id = ? AND target = ?
		ORDER BY year
	`, runID, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []training.YearMetrics
	for rows.Next() {
		var y training.YearMetrics
		var mseModel, mseRef, rmse, skill sql.NullFloat64
		if err := rows.Scan(&y.Year, &mseModel, &mseRef, &rmse, &skill, &y.N); err != nil {
			return nil, err
		}
		y.MSEModel, y.MSERef, y.RMSE, y.Skill = floatOrNaN(mseModel), floatOrNaN(mseRef), floatOrNaN(rmse), floatOrNaN(skill)
		years = append(years, y)
	}
	return years, rows.Err()
}

// CountRuns returns how many runs are archived and how many of those failed.
func (s *Store) CountRuns() (total, failed int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN finished_at IS NOT NULL AND NOT success THEN 1 ELSE 0 END), 0)
		FROM training_runs
	`).Scan(&total, &failed)
	return total, failed, err
}

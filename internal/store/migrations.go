package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    station_code TEXT,
    station_name TEXT NOT NULL,
    data_source TEXT,
    config_json TEXT,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS model_fits (
    run_id TEXT NOT NULL REFERENCES training_runs(id),
    target TEXT NOT NULL,
    n_observations INTEGER NOT NULL,
    mae REAL,
    bias REAL,
    err_p05 REAL,
    err_p95 REAL,
    loyo_rmse REAL,
    loyo_skill REAL,
    ridge_lambda REAL NOT NULL,
    coefficients_json TEXT NOT NULL,
    PRIMARY KEY (run_id, target)
);

CREATE TABLE IF NOT EXISTS loyo_years (
    run_id TEXT NOT NULL REFERENCES training_runs(id),
    target TEXT NOT NULL,
    year INTEGER NOT NULL,
    mse_model REAL,
    mse_ref REAL,
    rmse REAL,
    skill REAL,
    n INTEGER NOT NULL,
    PRIMARY KEY (run_id, target, year)
);
`,
	},
	{
		Version:     2,
		Description: "Index runs by start time",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_loyo_years_target ON loyo_years(target, year);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.WithField("version", m.Version).Infof("applying migration: %s", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, s.clock.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		s.log.WithField("version", m.Version).Debug("migration completed")
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

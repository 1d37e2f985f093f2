package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harmoclimate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging)
	assert.Equal(t, 3, cfg.Model.NDiurnal)
	assert.Equal(t, 3, cfg.Model.DefaultNAnnual)
	assert.Zero(t, cfg.Model.RidgeLambda)
	assert.Equal(t, []string{"T", "Q", "P"}, cfg.Targets)
	assert.Equal(t, "generated", cfg.Output.Dir)
	assert.Equal(t, "generated/harmoclimate.db", cfg.Output.Database)
	assert.Equal(t, 60*time.Second, cfg.Ingest.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.MaxElapsed)
	assert.Equal(t, "fr", cfg.Station.Country)
	assert.Equal(t, ',', cfg.SeparatorRune())
	assert.Equal(t, "Europe/Paris", cfg.Ingest.LocalTimezone)

	// Defaults alone lack a station name.
	require.ErrorIs(t, cfg.Validate(), ErrStationNameRequired)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging: debug
station:
  code: "18033001"
  name: Bourges
  longitude: 2.36
  latitude: 47.06
  altitude: 161
model:
  n_diurnal: 2
  default_n_annual: 1
  annual_per_param:
    c0: 4
  ridge_lambda: 0.25
targets: [T, P]
ingest:
  separator: ";"
  timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
	assert.Equal(t, ';', cfg.SeparatorRune())
	assert.Equal(t, 5*time.Second, cfg.Ingest.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.MaxElapsed)

	hc, err := cfg.HarmonicConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, hc.NDiurnal)
	assert.Equal(t, 4, hc.AnnualOrder("c0"))
	assert.Equal(t, 1, hc.AnnualOrder("a2"))

	targets, err := cfg.ResolveTargets()
	require.NoError(t, err)
	assert.Equal(t, []models.Target{models.Temperature, models.Pressure}, targets)

	st := cfg.StationInfo()
	assert.Equal(t, "Bourges", st.Name)
	assert.Equal(t, "18033001", st.Code)
	assert.InDelta(t, 2.36, st.Longitude, 1e-12)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown target", func(c *Config) { c.Targets = []string{"T", "W"} }, ErrUnknownTarget},
		{"no targets", func(c *Config) { c.Targets = nil }, ErrNoTargets},
		{"negative ridge", func(c *Config) { c.Model.RidgeLambda = -1 }, ErrNegativeRidge},
		{"unknown block", func(c *Config) { c.Model.AnnualPerParam = map[string]int{"a7": 1} }, harmonic.ErrUnknownParameter},
		{"negative order", func(c *Config) { c.Model.NDiurnal = -1 }, harmonic.ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			cfg.Station.Name = "Bourges"
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_BadLoggingLevel(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Station.Name = "Bourges"
	cfg.Logging = "loud"
	require.Error(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "model: [unterminated"))
	require.Error(t, err)
}

func TestLocalLocation(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Station.Name = "Bourges"

	loc, err := cfg.LocalLocation()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())

	cfg.Ingest.LocalTimezone = ""
	loc, err = cfg.LocalLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	cfg.Ingest.LocalTimezone = "Europe/Nowhere"
	_, err = cfg.LocalLocation()
	require.Error(t, err)
	require.Error(t, cfg.Validate())
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/models"
)

var (
	// ErrStationNameRequired is returned when the station has no name
	ErrStationNameRequired = errors.New("station name is required")
	// ErrUnknownTarget is returned for a target other than T, Q or P
	ErrUnknownTarget = errors.New("unknown target variable")
	// ErrNegativeRidge is returned when model.ridge_lambda < 0
	ErrNegativeRidge = errors.New("ridge lambda must be non-negative")
	// ErrNoTargets is returned when targets is empty
	ErrNoTargets = errors.New("at least one target is required")
)

// Config is the training configuration file.
type Config struct {
	// Logging level
	Logging string `yaml:"logging" default:"info"`

	Station StationConfig `yaml:"station"`
	Model   ModelConfig   `yaml:"model"`
	Targets []string      `yaml:"targets" default:"[\"T\",\"Q\",\"P\"]"`
	Output  OutputConfig  `yaml:"output"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

type StationConfig struct {
	Country   string  `yaml:"country" default:"fr"`
	Code      string  `yaml:"code"`
	Name      string  `yaml:"name"`
	Longitude float64 `yaml:"longitude"`
	Latitude  float64 `yaml:"latitude"`
	Altitude  float64 `yaml:"altitude"`
}

type ModelConfig struct {
	NDiurnal       int            `yaml:"n_diurnal" default:"3"`
	DefaultNAnnual int            `yaml:"default_n_annual" default:"3"`
	AnnualPerParam map[string]int `yaml:"annual_per_param,omitempty"`
	RidgeLambda    float64        `yaml:"ridge_lambda" default:"0"`
}

type OutputConfig struct {
	Dir             string `yaml:"dir" default:"generated"`
	Database        string `yaml:"database" default:"generated/harmoclimate.db"`
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`
	Version         string `yaml:"version" default:"1.0"`
}

type IngestConfig struct {
	Separator     string        `yaml:"separator" default:","`
	// Zone of compact AAAAMMJJHH timestamps
	LocalTimezone string        `yaml:"local_timezone" default:"Europe/Paris"`
	Timeout       time.Duration `yaml:"timeout" default:"60s"`
	MaxElapsed    time.Duration `yaml:"max_elapsed" default:"2m"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load applies defaults, then overlays the YAML file at path. A missing file
// leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration is usable for training.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return err
	}
	if c.Station.Name == "" {
		return ErrStationNameRequired
	}
	if c.Model.RidgeLambda < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeRidge, c.Model.RidgeLambda)
	}
	if _, err := c.HarmonicConfig(); err != nil {
		return err
	}
	if _, err := c.ResolveTargets(); err != nil {
		return err
	}
	if _, err := c.LocalLocation(); err != nil {
		return err
	}
	if c.Ingest.Separator != "" && len([]rune(c.Ingest.Separator)) != 1 {
		return fmt.Errorf("ingest separator must be a single character, got %q", c.Ingest.Separator)
	}
	return nil
}

func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Logging)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (c *Config) HarmonicConfig() (harmonic.Config, error) {
	return harmonic.NewConfig(c.Model.NDiurnal, c.Model.DefaultNAnnual, c.Model.AnnualPerParam)
}

// ResolveTargets maps target names to their definitions, keeping file order.
func (c *Config) ResolveTargets() ([]models.Target, error) {
	if len(c.Targets) == 0 {
		return nil, ErrNoTargets
	}
	out := make([]models.Target, 0, len(c.Targets))
	for _, name := range c.Targets {
		target, ok := models.LookupTarget(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
		}
		out = append(out, target)
	}
	return out, nil
}

func (c *Config) StationInfo() models.Station {
	return models.Station{
		Code:      c.Station.Code,
		Name:      c.Station.Name,
		Latitude:  c.Station.Latitude,
		Longitude: c.Station.Longitude,
		Altitude:  c.Station.Altitude,
	}
}

// SeparatorRune is the CSV separator, ',' when unset.
func (c *Config) SeparatorRune() rune {
	if c.Ingest.Separator == "" {
		return ','
	}
	return []rune(c.Ingest.Separator)[0]
}

// LocalLocation loads ingest.local_timezone; an empty value means UTC.
func (c *Config) LocalLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ingest.LocalTimezone)
	if err != nil {
		return nil, fmt.Errorf("ingest local_timezone: %w", err)
	}
	return loc, nil
}

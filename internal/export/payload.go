// Package export writes fitted models and their validation reports as the
// JSON and CSV artefacts consumed by downstream evaluators.
package export

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/models"
	"github.com/lox/harmoclimate/internal/training"
)

// Float encodes NaN and ±Inf as JSON null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// Slug lowercases a station name and keeps letters, digits and underscores.
func Slug(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	lowered = strings.NewReplacer(" ", "_", "-", "_").Replace(lowered)
	var b strings.Builder
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BaseName is the shared stem of a station's artefacts, e.g. "fr_bourges".
func BaseName(country, stationName string) string {
	return strings.ToLower(country) + "_" + Slug(stationName)
}

// ModelFileName is e.g. "fr_bourges_temperature.json".
func ModelFileName(country, stationName string, target models.Target) string {
	return BaseName(country, stationName) + "_" + target.Label + ".json"
}

// Metadata describes where and when a model was produced.
type Metadata struct {
	Version     string
	Country     string
	GeneratedAt time.Time
	Station     models.Station
	SourceStart time.Time
	SourceEnd   time.Time
}

type ModelPayload struct {
	Metadata ModelMetadata `json:"metadata"`
	Model    ModelBody     `json:"model"`
}

type ModelMetadata struct {
	Version            string        `json:"version"`
	GeneratedAtUTC     string        `json:"generated_at_utc"`
	CountryCode        string        `json:"country_code"`
	TargetVariable     string        `json:"target_variable"`
	TargetUnit         string        `json:"target_unit"`
	StationCode        *string       `json:"station_code"`
	StationName        string        `json:"station_usual_name"`
	LongitudeDeg       Float         `json:"longitude_deg"`
	LatitudeDeg        Float         `json:"latitude_deg"`
	AltitudeM          Float         `json:"altitude_m"`
	DeltaUTCSolarH     Float         `json:"delta_utc_solar_h"`
	SourceDataUTCStart *string       `json:"source_data_utc_start"`
	SourceDataUTCEnd   *string       `json:"source_data_utc_end"`
	ErrorEnvelope      ErrorEnvelope `json:"error_envelope"`
	TimeBasis          TimeBasis     `json:"time_basis"`
}

type ErrorEnvelope struct {
	MAE  Float `json:"mae"`
	Bias Float `json:"bias"`
	P05  Float `json:"p05"`
	P95  Float `json:"p95"`
}

type TimeBasis struct {
	Type     string  `json:"type"`
	Days     float64 `json:"days"`
	Calendar string  `json:"calendar"`
}

type ModelBody struct {
	NDiurnal     int                       `json:"n_diurnal"`
	ParamsLayout []harmonic.ParameterBlock `json:"params_layout"`
	Coefficients []Float                   `json:"coefficients"`
}

func isoUTC(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// NewModelPayload renders a fit for export.
func NewModelPayload(fit training.FitResult, meta Metadata) ModelPayload {
	target := fit.Target()
	m := fit.Metrics()

	var code *string
	if meta.Station.Code != "" {
		c := meta.Station.Code
		code = &c
	}

	coef := fit.Coefficients()
	out := make([]Float, len(coef))
	for i, c := range coef {
		out[i] = Float(c)
	}

	return ModelPayload{
		Metadata: ModelMetadata{
			Version:            meta.Version,
			GeneratedAtUTC:     meta.GeneratedAt.UTC().Format(time.RFC3339),
			CountryCode:        strings.ToLower(meta.Country),
			TargetVariable:     target.Name,
			TargetUnit:         target.Unit,
			StationCode:        code,
			StationName:        meta.Station.Name,
			LongitudeDeg:       Float(meta.Station.Longitude),
			LatitudeDeg:        Float(meta.Station.Latitude),
			AltitudeM:          Float(meta.Station.Altitude),
			DeltaUTCSolarH:     Float(meta.Station.Longitude / 15),
			SourceDataUTCStart: isoUTC(meta.SourceStart),
			SourceDataUTCEnd:   isoUTC(meta.SourceEnd),
			ErrorEnvelope: ErrorEnvelope{
				MAE:  Float(m.MAE),
				Bias: Float(m.Bias),
				P05:  Float(m.P05),
				P95:  Float(m.P95),
			},
			TimeBasis: TimeBasis{
				Type:     "solar",
				Days:     harmonic.SolarYearDays,
				Calendar: "no-leap",
			},
		},
		Model: ModelBody{
			NDiurnal:     fit.NDiurnal(),
			ParamsLayout: fit.Layout(),
			Coefficients: out,
		},
	}
}

type ReportPayload struct {
	Years               []YearRow       `json:"years"`
	Global              GlobalRow       `json:"global"`
	Hyperparameters     Hyperparameters `json:"hyperparameters"`
	RidgeLambda         float64         `json:"ridge_lambda"`
	TotalObservations   int             `json:"total_observations"`
	FinalTrainingPeriod string          `json:"final_training_period"`
}

type YearRow struct {
	Year     int   `json:"year"`
	RMSE     Float `json:"rmse"`
	MSEModel Float `json:"mse_model"`
	MSERef   Float `json:"mse_ref"`
	Skill    Float `json:"skill"`
	N        int   `json:"n"`
}

type GlobalRow struct {
	RMSE  Float `json:"rmse"`
	Skill Float `json:"skill"`
}

type Hyperparameters struct {
	Model              ModelSpec    `json:"model"`
	Reference          BaselineSpec `json:"reference"`
	EvaluationTimeBase string       `json:"evaluation_time_base"`
	ModelTimeBase      string       `json:"model_time_base"`
	Baseline           string       `json:"baseline"`
}

type ModelSpec struct {
	NDiurnal       int            `json:"n_diurnal"`
	DefaultNAnnual int            `json:"default_n_annual"`
	AnnualPerParam map[string]int `json:"annual_per_param"`
	RidgeLambda    float64        `json:"ridge_lambda"`
}

type BaselineSpec struct {
	Type        string `json:"type"`
	TimeBasis   string `json:"time_basis"`
	Calendar    string `json:"calendar"`
	Grouping    string `json:"grouping"`
	Exclusion   string `json:"exclusion"`
	HoursPerDay int    `json:"hours_per_day"`
	DaysPerYear int    `json:"days_per_year"`
}

// NewReportPayload renders a leave-one-year-out report for export.
func NewReportPayload(r training.LeaveOneYearOutReport) ReportPayload {
	years := make([]YearRow, len(r.Years))
	for i, y := range r.Years {
		years[i] = YearRow{
			Year:     y.Year,
			RMSE:     Float(y.RMSE),
			MSEModel: Float(y.MSEModel),
			MSERef:   Float(y.MSERef),
			Skill:    Float(y.Skill),
			N:        y.N,
		}
	}

	hp := r.Hyperparameters
	orders := make(map[string]int, len(hp.Model.AnnualPerParam))
	for name, n := range hp.Model.AnnualPerParam {
		orders[name] = n
	}

	return ReportPayload{
		Years:  years,
		Global: GlobalRow{RMSE: Float(r.GlobalRMSE), Skill: Float(r.GlobalSkill)},
		Hyperparameters: Hyperparameters{
			Model: ModelSpec{
				NDiurnal:       hp.Model.NDiurnal,
				DefaultNAnnual: hp.Model.DefaultNAnnual,
				AnnualPerParam: orders,
				RidgeLambda:    hp.Model.RidgeLambda,
			},
			Reference: BaselineSpec{
				Type:        hp.Reference.Type,
				TimeBasis:   hp.Reference.TimeBasis,
				Calendar:    hp.Reference.Calendar,
				Grouping:    hp.Reference.Grouping,
				Exclusion:   hp.Reference.Exclusion,
				HoursPerDay: hp.Reference.HoursPerDay,
				DaysPerYear: hp.Reference.DaysPerYear,
			},
			EvaluationTimeBase: hp.EvaluationTimeBase,
			ModelTimeBase:      hp.ModelTimeBase,
			Baseline:           hp.Baseline,
		},
		RidgeLambda:         r.RidgeLambda,
		TotalObservations:   r.TotalObservations,
		FinalTrainingPeriod: r.FinalTrainingPeriod,
	}
}

// formatFloat renders CSV numbers; NaN is written as "nan".
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

package export

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/lox/harmoclimate/internal/harmonic"
	"github.com/lox/harmoclimate/internal/ingest"
	"github.com/lox/harmoclimate/internal/models"
)

// TemplatesDir is the output subdirectory of generated C++ headers.
const TemplatesDir = "templates"

//go:embed templates/*.tmpl
var templateFS embed.FS

var headerTemplate = template.Must(template.New("").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl"))

var (
	// ErrNoModels is returned when a header is requested without any model
	ErrNoModels = errors.New("no models to render")
	// ErrInvalidModel is returned for a payload the header cannot represent
	ErrInvalidModel = errors.New("invalid model payload")
)

// UnmarshalJSON reads null as NaN.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// ReadModelPayload loads a model JSON written by WriteValidated.
func ReadModelPayload(path string) (ModelPayload, error) {
	var p ModelPayload
	data, err := os.ReadFile(path) //nolint:gosec // artefact path from config
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", path, err)
	}
	return p, nil
}

// HeaderFileName is e.g. "fr_bourges.hpp".
func HeaderFileName(country, stationName string) string {
	return BaseName(country, stationName) + ".hpp"
}

type headerData struct {
	Station          string
	Code             string
	Period           string
	Longitude        string
	Latitude         string
	DeltaUTCSolarH   string
	SolarYearDays    string
	OmegaAnnual      string
	OmegaDiurnal     string
	MolarMassRatio   string
	Models           []headerModel
	DewPoint         bool
	RelativeHumidity bool
}

type headerModel struct {
	Namespace string
	Predict   string
	Target    string
	Unit      string
	NDiurnal  int
	Blocks    []headerBlock
}

type headerBlock struct {
	Name    string
	NAnnual int
	Order   int
	Trig    string
	Coeffs  []string
}

// cLiteral prints v with enough digits to round-trip a double.
func cLiteral(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func newHeaderModel(p ModelPayload) (headerModel, error) {
	target, ok := models.LookupTarget(p.Metadata.TargetVariable)
	if !ok {
		return headerModel{}, fmt.Errorf("%w: unknown target %q", ErrInvalidModel, p.Metadata.TargetVariable)
	}
	m := headerModel{
		Namespace: target.Label + "_model",
		Predict:   "predict_" + target.Label,
		Target:    target.Label,
		Unit:      target.Unit,
		NDiurnal:  p.Model.NDiurnal,
	}

	coef := p.Model.Coefficients
	hasOffset := false
	for _, b := range p.Model.ParamsLayout {
		if !isIdentifier(b.Name) {
			return headerModel{}, fmt.Errorf("%w: %s block name %q", ErrInvalidModel, target.Name, b.Name)
		}
		if b.Start < 0 || b.NAnnual < 0 || b.Length != 1+2*b.NAnnual || b.Start+b.Length > len(coef) {
			return headerModel{}, fmt.Errorf("%w: %s block %s does not fit %d coefficients", ErrInvalidModel, target.Name, b.Name, len(coef))
		}
		if b.Name == harmonic.OffsetName {
			hasOffset = true
		}

		values := make([]string, b.Length)
		for i, c := range coef[b.Start : b.Start+b.Length] {
			v := float64(c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return headerModel{}, fmt.Errorf("%w: %s block %s has a non-finite coefficient", ErrInvalidModel, target.Name, b.Name)
			}
			values[i] = cLiteral(v)
		}

		hb := headerBlock{Name: b.Name, NAnnual: b.NAnnual, Trig: "cos", Coeffs: values}
		var sine bool
		if hb.Order, sine = b.Diurnal(); sine {
			hb.Trig = "sin"
		}
		m.Blocks = append(m.Blocks, hb)
	}
	if !hasOffset {
		return headerModel{}, fmt.Errorf("%w: %s has no %s block", ErrInvalidModel, target.Name, harmonic.OffsetName)
	}
	return m, nil
}

// WriteHeader renders the payloads as a self-contained C++ header with one
// namespace per target. Station metadata is taken from the first payload.
// Dew point and relative humidity predictors are added when the specific
// humidity, pressure (and, for relative humidity, temperature) models are all
// present.
func WriteHeader(w io.Writer, payloads []ModelPayload) error {
	if len(payloads) == 0 {
		return ErrNoModels
	}
	meta := payloads[0].Metadata
	lon := float64(meta.LongitudeDeg)
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: station longitude is unknown", ErrInvalidModel)
	}

	data := headerData{
		Station:        meta.StationName,
		Longitude:      cLiteral(lon),
		DeltaUTCSolarH: cLiteral(lon / 15),
		SolarYearDays:  cLiteral(harmonic.SolarYearDays),
		OmegaAnnual:    cLiteral(harmonic.AnnualOmega),
		OmegaDiurnal:   cLiteral(harmonic.DiurnalOmega),
		MolarMassRatio: cLiteral(ingest.MolarMassRatio),
	}
	if meta.StationCode != nil {
		data.Code = *meta.StationCode
	}
	if lat := float64(meta.LatitudeDeg); !math.IsNaN(lat) && !math.IsInf(lat, 0) {
		data.Latitude = cLiteral(lat)
	}
	if meta.SourceDataUTCStart != nil && meta.SourceDataUTCEnd != nil {
		data.Period = *meta.SourceDataUTCStart + " to " + *meta.SourceDataUTCEnd
	}

	seen := make(map[string]bool, len(payloads))
	for _, p := range payloads {
		m, err := newHeaderModel(p)
		if err != nil {
			return err
		}
		if seen[m.Namespace] {
			return fmt.Errorf("%w: duplicate %s model", ErrInvalidModel, m.Target)
		}
		seen[m.Namespace] = true
		data.Models = append(data.Models, m)
	}
	humidity := seen[models.SpecificHumidity.Label+"_model"] && seen[models.Pressure.Label+"_model"]
	data.DewPoint = humidity
	data.RelativeHumidity = humidity && seen[models.Temperature.Label+"_model"]

	return headerTemplate.ExecuteTemplate(w, "header", data)
}

// WriteHeaderFile renders the header into path, replacing it atomically.
func WriteHeaderFile(path string, payloads []ModelPayload) error {
	return writeAtomic(path, func(w io.Writer) error {
		return WriteHeader(w, payloads)
	})
}

package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lox/harmoclimate/internal/training"
)

const metricsDirName = "training_metrics"

// Artifacts lists the files written for one target.
type Artifacts struct {
	Model       string
	MetricsJSON string
	MetricsCSV  string
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteReportCSV writes one row per scored year followed, when any year
// carries observations, by a "global" row of observation-weighted MSEs.
func WriteReportCSV(w io.Writer, r training.LeaveOneYearOutReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"year", "rmse", "mse_model", "mse_ref", "skill", "n"}); err != nil {
		return err
	}
	for _, y := range r.Years {
		if err := cw.Write([]string{
			strconv.Itoa(y.Year),
			formatFloat(y.RMSE),
			formatFloat(y.MSEModel),
			formatFloat(y.MSERef),
			formatFloat(y.Skill),
			strconv.Itoa(y.N),
		}); err != nil {
			return err
		}
	}
	if mseModel, mseRef, n := r.Pooled(); n > 0 {
		if err := cw.Write([]string{
			"global",
			formatFloat(r.GlobalRMSE),
			formatFloat(mseModel),
			formatFloat(mseRef),
			formatFloat(r.GlobalSkill),
			strconv.Itoa(n),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteValidated writes the model JSON into dir and the report JSON and CSV
// into dir/training_metrics.
func WriteValidated(dir string, v training.ValidatedFitResult, meta Metadata) (Artifacts, error) {
	name := ModelFileName(meta.Country, meta.Station.Name, v.Target())
	stem := strings.TrimSuffix(name, ".json") + "_training_metrics"
	out := Artifacts{
		Model:       filepath.Join(dir, name),
		MetricsJSON: filepath.Join(dir, metricsDirName, stem+".json"),
		MetricsCSV:  filepath.Join(dir, metricsDirName, stem+".csv"),
	}

	if err := WriteJSON(out.Model, NewModelPayload(v.FitResult, meta)); err != nil {
		return Artifacts{}, err
	}
	report := v.Report()
	if err := WriteJSON(out.MetricsJSON, NewReportPayload(report)); err != nil {
		return Artifacts{}, err
	}
	if err := writeAtomic(out.MetricsCSV, func(w io.Writer) error {
		return WriteReportCSV(w, report)
	}); err != nil {
		return Artifacts{}, err
	}
	return out, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

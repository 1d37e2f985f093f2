package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lox/harmoclimate/internal/export"
	"github.com/lox/harmoclimate/internal/models"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

type RunView struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	StationCode string     `json:"station_code,omitempty"`
	StationName string     `json:"station_name"`
	DataSource  string     `json:"data_source"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
}

type FitView struct {
	Target       string               `json:"target"`
	Observations int                  `json:"n_observations"`
	Envelope     export.ErrorEnvelope `json:"error_envelope"`
	LOYORMSE     export.Float         `json:"loyo_rmse"`
	LOYOSkill    export.Float         `json:"loyo_skill"`
	RidgeLambda  float64              `json:"ridge_lambda"`
	Coefficients []export.Float       `json:"coefficients"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		v := RunView{
			ID:          run.ID,
			StartedAt:   run.StartedAt.UTC(),
			StationCode: run.StationCode,
			StationName: run.StationName,
			DataSource:  run.DataSource,
			Success:     run.Success,
			Error:       run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			finished := run.FinishedAt.Time.UTC()
			v.FinishedAt = &finished
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFits(w http.ResponseWriter, r *http.Request) {
	fits, err := s.store.GetFits(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fits) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	out := make([]FitView, 0, len(fits))
	for _, f := range fits {
		coef := make([]export.Float, len(f.Coefficients))
		for i, c := range f.Coefficients {
			coef[i] = export.Float(c)
		}
		out = append(out, FitView{
			Target:       f.Target,
			Observations: f.Observations,
			Envelope: export.ErrorEnvelope{
				MAE:  export.Float(f.Metrics.MAE),
				Bias: export.Float(f.Metrics.Bias),
				P05:  export.Float(f.Metrics.P05),
				P95:  export.Float(f.Metrics.P95),
			},
			LOYORMSE:     export.Float(f.LOYORMSE),
			LOYOSkill:    export.Float(f.LOYOSkill),
			RidgeLambda:  f.RidgeLambda,
			Coefficients: coef,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if _, ok := models.LookupTarget(target); !ok {
		http.Error(w, "unknown target "+strconv.Quote(target), http.StatusBadRequest)
		return
	}

	years, err := s.store.GetYearMetrics(r.PathValue("id"), target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(years) == 0 {
		http.Error(w, "no validation scores", http.StatusNotFound)
		return
	}

	out := make([]export.YearRow, 0, len(years))
	for _, y := range years {
		out = append(out, export.YearRow{
			Year:     y.Year,
			RMSE:     export.Float(y.RMSE),
			MSEModel: export.Float(y.MSEModel),
			MSERef:   export.Float(y.MSERef),
			Skill:    export.Float(y.Skill),
			N:        y.N,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

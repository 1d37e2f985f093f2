package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/lox/harmoclimate/internal/api"
	"github.com/lox/harmoclimate/internal/config"
	"github.com/lox/harmoclimate/internal/export"
	"github.com/lox/harmoclimate/internal/metrics"
	"github.com/lox/harmoclimate/internal/models"
	"github.com/lox/harmoclimate/internal/pipeline"
	"github.com/lox/harmoclimate/internal/store"
)

const defaultDatabase = "generated/harmoclimate.db"

type Globals struct {
	LogLevel  string `help:"Log level (trace, debug, info, warn, error), overriding the config file."`
	LogFormat string `help:"Log output format." enum:"text,json" default:"text"`
}

func (g *Globals) logger(fallback logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level := fallback
	if g.LogLevel != "" {
		if parsed, err := logrus.ParseLevel(g.LogLevel); err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)
	if g.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

type CLI struct {
	Globals

	Train    TrainCmd    `cmd:"" help:"Fit, validate and export the models of one station."`
	Runs     RunsCmd     `cmd:"" help:"List archived training runs."`
	Years    YearsCmd    `cmd:"" help:"Show the per-year validation scores of an archived fit."`
	Template TemplateCmd `cmd:"" help:"Render exported models as a C++ header."`
	Serve    ServeCmd    `cmd:"" help:"Serve the run archive over HTTP."`
}

type TrainCmd struct {
	Config    string `help:"YAML configuration file." default:"harmoclimate.yaml" type:"path"`
	Data      string `help:"Station CSV (optionally gzipped), a local path or an http(s) URL." required:""`
	RunStore  string `help:"Run archive database, overriding output.database." type:"path"`
	NoArchive bool   `help:"Do not archive the run."`
}

func (c *TrainCmd) Run(g *Globals) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := g.logger(cfg.LogLevel())
	clock := clockwork.NewRealClock()

	runner, err := pipeline.New(cfg, log, clock)
	if err != nil {
		return err
	}

	if !c.NoArchive {
		path := cfg.Output.Database
		if c.RunStore != "" {
			path = c.RunStore
		}
		db, st, err := openStore(path, log, clock)
		if err != nil {
			return err
		}
		defer db.Close()
		runner.SetStore(st)
	}
	runner.SetMetrics(metrics.New())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := runner.Run(ctx, c.Data)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tROWS\tMAE\tLOYO RMSE\tLOYO SKILL\tMODEL")
	for _, t := range res.Targets {
		report := t.Fit.Report()
		fmt.Fprintf(w, "%s\t%d\t%.4g\t%.4g\t%.3f\t%s\n",
			t.Fit.Target().Name, t.Fit.Observations(), t.Fit.Metrics().MAE,
			report.GlobalRMSE, report.GlobalSkill, t.Artifacts.Model)
	}
	fmt.Fprintf(w, "\nheader %s\n", res.Header)
	if res.RunID != "" {
		fmt.Fprintf(w, "run %s\n", res.RunID)
	}
	return w.Flush()
}

type RunsCmd struct {
	DB    string `help:"Run archive database." default:"${database}" type:"path"`
	Limit int    `help:"Maximum number of runs to list." default:"20"`
}

func (c *RunsCmd) Run(g *Globals) error {
	log := g.logger(logrus.WarnLevel)
	db, st, err := openStore(c.DB, log, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := st.ListRuns(c.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATION\tSTATUS\tSOURCE")
	for _, r := range runs {
		status := "ok"
		switch {
		case !r.FinishedAt.Valid:
			status = "running"
		case !r.Success:
			status = "failed: " + r.ErrorMessage.String
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.StationName, status, r.DataSource)
	}
	return w.Flush()
}

type YearsCmd struct {
	RunID  string `arg:"" help:"Run ID as printed by train or runs."`
	Target string `arg:"" help:"Target variable (T, Q or P)."`
	DB     string `help:"Run archive database." default:"${database}" type:"path"`
}

func (c *YearsCmd) Run(g *Globals) error {
	if _, ok := models.LookupTarget(c.Target); !ok {
		return fmt.Errorf("%w: %q", config.ErrUnknownTarget, c.Target)
	}
	log := g.logger(logrus.WarnLevel)
	db, st, err := openStore(c.DB, log, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	defer db.Close()

	years, err := st.GetYearMetrics(c.RunID, c.Target)
	if err != nil {
		return err
	}
	if len(years) == 0 {
		return fmt.Errorf("no validation scores for run %s target %s", c.RunID, c.Target)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "YEAR\tN\tRMSE\tMSE MODEL\tMSE REF\tSKILL")
	for _, y := range years {
		fmt.Fprintf(w, "%d\t%d\t%.4g\t%.4g\t%.4g\t%.3f\n", y.Year, y.N, y.RMSE, y.MSEModel, y.MSERef, y.Skill)
	}
	return w.Flush()
}

type TemplateCmd struct {
	Config string `help:"YAML configuration file." default:"harmoclimate.yaml" type:"path"`
	Out    string `help:"Header path, overriding <output.dir>/templates/<country>_<station>.hpp." type:"path"`
}

func (c *TemplateCmd) Run(g *Globals) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := g.logger(cfg.LogLevel())

	targets, err := cfg.ResolveTargets()
	if err != nil {
		return err
	}
	payloads := make([]export.ModelPayload, 0, len(targets))
	for _, target := range targets {
		path := filepath.Join(cfg.Output.Dir, export.ModelFileName(cfg.Station.Country, cfg.Station.Name, target))
		p, err := export.ReadModelPayload(path)
		if err != nil {
			return fmt.Errorf("target %s: %w", target.Name, err)
		}
		payloads = append(payloads, p)
	}

	out := c.Out
	if out == "" {
		out = filepath.Join(cfg.Output.Dir, export.TemplatesDir, export.HeaderFileName(cfg.Station.Country, cfg.Station.Name))
	}
	if err := export.WriteHeaderFile(out, payloads); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"path": out, "models": len(payloads)}).Info("header written")
	fmt.Println(out)
	return nil
}

type ServeCmd struct {
	DB   string `help:"Run archive database." default:"${database}" type:"path"`
	Addr string `help:"Listen address." default:":8080"`
}

func (c *ServeCmd) Run(g *Globals) error {
	log := g.logger(logrus.InfoLevel)
	db, st, err := openStore(c.DB, log, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return api.NewServer(st, c.Addr, log).Run(ctx)
}

func openStore(path string, log logrus.FieldLogger, clock clockwork.Clock) (*sql.DB, *store.Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, log, clock)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, st, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("harmoclimate"),
		kong.Description("Harmonic climate models for weather stations."),
		kong.UsageOnError(),
		kong.Vars{"database": defaultDatabase},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/docenrich/artifacts"
	"github.com/hazyhaar/docenrich/config"
	"github.com/hazyhaar/docenrich/dbopen"
	"github.com/hazyhaar/docenrich/docpipe"
	"github.com/hazyhaar/docenrich/enhance"
	"github.com/hazyhaar/docenrich/horosembed"
	"github.com/hazyhaar/docenrich/ingest"
	"github.com/hazyhaar/docenrich/llm"
	"github.com/hazyhaar/docenrich/observability"
	"github.com/hazyhaar/docenrich/orchestrator"
	"github.com/hazyhaar/docenrich/registry"
	"github.com/hazyhaar/docenrich/synthesis"
	"github.com/hazyhaar/docenrich/vecstore"
	"github.com/hazyhaar/docenrich/vectorize"
	"github.com/hazyhaar/docenrich/vtq"
	"github.com/hazyhaar/docenrich/window"
)

// app is the wired service shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	store    *artifacts.Store
	registry *registry.Registry
	pipeline *docpipe.Pipeline
	ingest   *ingest.Ingester
	orch     *orchestrator.Orchestrator

	db    *sql.DB
	queue *vtq.Q
	vs    *vecstore.Store
}

// loadConfig reads .env, the YAML file and the environment, then installs
// the default logger.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnv(c.String("env-file")); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newApp wires every component. The SQLite database holding the queue and
// the vectors is opened only when withDB is set.
func newApp(c *cli.Context, withDB bool) (*app, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	a.store, err = artifacts.New(cfg.ArtefactsDir)
	if err != nil {
		return nil, err
	}
	a.registry, err = registry.Load(registry.Config{Path: cfg.Enhancement.RegistryPath, Logger: logger})
	if err != nil {
		return nil, err
	}

	pc := cfg.Docpipe()
	pc.Metrics, pc.Logger = a.metrics, logger
	a.pipeline = docpipe.New(pc, a.store)

	a.ingest = ingest.New(a.store, ingest.Config{
		MaxFileSize: cfg.MaxFileBytes(),
		Metrics:     a.metrics,
		Logger:      logger,
	})

	collab := orchestrator.Collaborators{Extractor: a.pipeline}

	limiters := llm.NewLimiters()
	lc := cfg.Completion()
	lc.Limiters, lc.Metrics, lc.Logger = limiters, a.metrics, logger
	client, err := llm.New(lc)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("llm not configured, enhancement stage will fail", "hint", "set OPENAI_API_KEY or llm.base_url")
	case err != nil:
		return nil, err
	default:
		wc := cfg.Window()
		wc.Counter = window.NewCounter(window.Encoding, logger)
		wc.Logger = logger
		ec := cfg.Enhance()
		ec.Metrics, ec.Logger = a.metrics, logger
		collab.Enhancer = &orchestrator.WindowedEnhancer{
			Store:    a.store,
			Windows:  window.New(wc),
			Executor: enhance.New(ec, client, a.registry),
		}
	}

	sc := cfg.SynthesisOptions()
	sc.Logger = logger
	collab.Synthesizer = synthesis.New(a.store, sc)

	if withDB {
		if err := a.openDB(c.Context); err != nil {
			return nil, err
		}
		hc := cfg.Embedder()
		hc.Limiters, hc.Logger = limiters, logger
		vc := cfg.Vectorize()
		vc.Metrics, vc.Logger = a.metrics, logger
		collab.Vectorizer = vectorize.New(a.store, a.vs, horosembed.New(hc), vc)
	}

	profiles := orchestrator.NewProfiles(cfg.ProfilesDir, a.registry, logger)
	a.orch = orchestrator.New(a.store, collab, a.registry, profiles, orchestrator.Config{
		AutoApproveAll: cfg.Enhancement.AutoApproveAll,
		Namespace:      cfg.ActiveNamespace,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	return a, nil
}

func (a *app) openDB(ctx context.Context) error {
	opts := []dbopen.Option{dbopen.WithMkdirAll()}
	if a.cfg.DBTraceSlow > 0 {
		opts = append(opts, dbopen.WithTrace(a.cfg.DBTraceSlow))
	}
	db, err := dbopen.Open(a.cfg.DBPath, opts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.cfg.DBPath, err)
	}
	a.db = db

	qo := a.cfg.QueueOptions()
	qo.Queue, qo.Logger = "documents", a.logger
	a.queue = vtq.New(db, qo)
	if err := a.queue.EnsureTable(ctx); err != nil {
		return err
	}
	a.vs, err = vecstore.New(db, a.logger)
	return err
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

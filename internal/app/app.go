// Package app wires the analyst from configuration: the DuckDB engine,
// catalog sources, checkpoint store, chat model and agent.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"duck-analyst/internal/agent"
	"duck-analyst/internal/catalog"
	"duck-analyst/internal/checkpoint"
	"duck-analyst/internal/config"
	"duck-analyst/internal/ddl"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/engine"
	"duck-analyst/internal/llm"
	"duck-analyst/internal/validator"
)

// App holds the fully-wired application.
type App struct {
	Config    *config.Config
	DuckDB    *sql.DB
	Catalog   *catalog.Catalog
	Validator *validator.Validator
	Executor  *engine.Executor
	Store     *checkpoint.Store
	Metrics   *agent.MetricsSink
	Agent     *agent.Agent // nil when no LLM endpoint is configured

	scheduler *catalog.Scheduler
	logger    *slog.Logger

	// engine resources created by source setup, removed on Close
	mu       sync.Mutex
	secrets  []string
	attached []string
}

// Options selects what New builds.
type Options struct {
	// WithStore opens the checkpoint store.
	WithStore bool
	// WithAgent builds the agent; it requires an LLM endpoint.
	WithAgent bool
}

// New opens the engine, registers every configured source and builds the
// requested components. Source setup runs on first discovery: a source that
// cannot be set up is reported as a failed source on every refresh and set up
// again on the next one.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.WithAgent && !cfg.HasLLM() {
		return nil, fmt.Errorf("no LLM endpoint configured: set llm.api_key, llm.base_url or OPENAI_API_KEY")
	}

	db, err := engine.Open(ctx, engine.Options{
		Path:        cfg.Engine.Path,
		MemoryLimit: cfg.Engine.MemoryLimit,
		Threads:     cfg.Engine.Threads,
		Extensions:  cfg.Engine.Extensions,
	}, logger.With("component", "engine"))
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		DuckDB:    db,
		Validator: validator.New(validator.Options{DefaultLimit: cfg.Agent.DefaultLimit, MaxLimit: cfg.Agent.MaxLimit, StrictLimit: cfg.Agent.StrictLimit}),
		Executor:  engine.NewExecutor(db, logger.With("component", "executor")),
		Metrics:   agent.NewMetricsSink(),
		logger:    logger,
	}

	inspector := engine.NewInspector(db)
	inspectOpts := engine.InspectOptions{
		SampleValues: cfg.Catalog.SampleValues,
		CountRows:    cfg.Catalog.CountRows,
		DateRange:    cfg.Catalog.DateRange,
	}
	sources := make([]catalog.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		srcLogger := logger.With("source", sc.Name)
		sources = append(sources, catalog.NewLazySource(sc.Name, sourceKind(sc.Type), func(ctx context.Context) (catalog.Source, error) {
			return a.openSource(ctx, sc, inspector, inspectOpts, srcLogger)
		}))
	}
	a.Catalog = catalog.New(sources, catalog.Options{
		TTL:            cfg.Catalog.TTL,
		Concurrency:    cfg.Catalog.Concurrency,
		RefreshTimeout: cfg.Catalog.RefreshTimeout,
		Logger:         logger.With("component", "catalog"),
	})

	if opts.WithStore || opts.WithAgent {
		a.Store, err = checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	if opts.WithAgent {
		if err := a.buildAgent(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) buildAgent() error {
	cfg := a.Config
	model, err := llm.New(llm.Config{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}, a.logger.With("component", "llm"))
	if err != nil {
		return err
	}

	a.Agent, err = agent.New(agent.Deps{
		Catalog:    a.Catalog,
		Validator:  a.Validator,
		Executor:   a.Executor,
		Router:     agent.NewLLMRouter(model),
		Generator:  agent.NewLLMGenerator(model),
		Summarizer: agent.NewLLMSummarizer(model, a.logger.With("component", "summarizer")),
		Store:      a.Store,
		Events:     agent.MultiSink{agent.NewLogSink(a.logger), a.Metrics},
	}, agent.Options{
		MaxAttempts:  cfg.Agent.MaxAttempts,
		QueryTimeout: cfg.Agent.QueryTimeout,
		TurnTimeout:  cfg.Agent.TurnTimeout,
		MaxResults:   cfg.Agent.MaxResults,
		MaxTables:    cfg.Catalog.MaxTables,
		HistoryTurns: cfg.Agent.HistoryTurns,
		Logger:       a.logger.With("component", "agent"),
	})
	return err
}

// StartScheduler refreshes the catalog on the configured schedule. It is a
// no-op when no schedule is configured.
func (a *App) StartScheduler(onRefresh func(*domain.Snapshot)) error {
	if a.Config.Catalog.RefreshSchedule == "" {
		return nil
	}
	a.scheduler = catalog.NewScheduler(a.Catalog, a.logger.With("component", "scheduler"))
	if onRefresh != nil {
		a.scheduler.OnRefresh(onRefresh)
	}
	return a.scheduler.Start(a.Config.Catalog.RefreshSchedule)
}

// Close releases every component in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	if a.DuckDB != nil {
		errs = append(errs, a.release(context.Background()))
		errs = append(errs, a.DuckDB.Close())
	}
	return errors.Join(errs...)
}

// release drops the secrets and detaches the databases created by source
// setup.
func (a *App) release(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, name := range a.secrets {
		errs = append(errs, engine.DropSecret(ctx, a.DuckDB, name))
	}
	for _, alias := range a.attached {
		errs = append(errs, engine.DetachCatalog(ctx, a.DuckDB, alias))
	}
	a.secrets, a.attached = nil, nil
	return errors.Join(errs...)
}

func (a *App) trackSecret(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.secrets, name) {
		a.secrets = append(a.secrets, name)
	}
}

func (a *App) trackAttached(alias string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.attached, alias) {
		a.attached = append(a.attached, alias)
	}
}

// sourceExtension returns the DuckDB extension a source type reads through.
func sourceExtension(sourceType string) string {
	switch sourceType {
	case config.SourceS3, config.SourceGCS:
		return "httpfs"
	case config.SourceAzure:
		return "azure"
	case config.SourcePostgres:
		return "postgres"
	}
	return ""
}

func sourceKind(sourceType string) domain.SourceKind {
	switch sourceType {
	case config.SourceLocal:
		return domain.SourceLocalFile
	case config.SourcePostgres:
		return domain.SourceRelational
	}
	return domain.SourceObjectStore
}

// openSource loads the extension, creates the engine secret or attachment and
// builds the catalog source for one configured data source.
func (a *App) openSource(ctx context.Context, sc config.SourceConfig, insp catalog.Inspector, opts engine.InspectOptions, logger *slog.Logger) (catalog.Source, error) {
	db := a.DuckDB
	secretName := ddl.SanitizeName(sc.Name) + "_secret"
	if ext := sourceExtension(sc.Type); ext != "" {
		if err := engine.InstallExtensions(ctx, db, ext); err != nil {
			return nil, err
		}
	}

	switch sc.Type {
	case config.SourceS3:
		if err := engine.CreateS3Secret(ctx, db, ddl.S3Secret{
			Name:         secretName,
			KeyID:        sc.KeyID,
			Secret:       sc.Secret,
			SessionToken: sc.SessionToken,
			Region:       sc.Region,
			Endpoint:     sc.Endpoint,
			URLStyle:     sc.URLStyle,
			UseSSL:       sc.UseSSL,
			Scope:        sc.URI,
		}); err != nil {
			return nil, err
		}
		a.trackSecret(secretName)
		lister := catalog.NewS3Lister(catalog.S3Credentials{
			Region:       sc.Region,
			Endpoint:     sc.Endpoint,
			KeyID:        sc.KeyID,
			Secret:       sc.Secret,
			SessionToken: sc.SessionToken,
			URLStyle:     sc.URLStyle,
			UseSSL:       sc.UseSSL == nil || *sc.UseSSL,
		})
		return catalog.NewObjectStoreSource(sc.Name, sc.URI, lister, insp, opts, logger)

	case config.SourceGCS:
		if sc.KeyID != "" {
			if err := engine.CreateGCSSecret(ctx, db, secretName, sc.KeyID, sc.Secret); err != nil {
				return nil, err
			}
			a.trackSecret(secretName)
		}
		lister, err := catalog.NewGCSLister(ctx, sc.KeyFile)
		if err != nil {
			return nil, err
		}
		src, err := catalog.NewObjectStoreSource(sc.Name, sc.URI, lister, insp, opts, logger)
		if err != nil {
			_ = lister.Close()
			return nil, err
		}
		return src, nil

	case config.SourceAzure:
		if err := engine.CreateAzureSecret(ctx, db, secretName, sc.AccountName, sc.AccountKey, sc.ConnectionString); err != nil {
			return nil, err
		}
		a.trackSecret(secretName)
		lister, err := catalog.NewAzureLister(sc.AccountName, sc.AccountKey, sc.ConnectionString)
		if err != nil {
			return nil, err
		}
		return catalog.NewObjectStoreSource(sc.Name, sc.URI, lister, insp, opts, logger)

	case config.SourceLocal:
		return catalog.NewLocalFileSource(sc.Name, sc.Paths, insp, opts, logger), nil

	case config.SourcePostgres:
		alias := ddl.SanitizeName(sc.Name)
		if err := engine.AttachPostgres(ctx, db, alias, sc.DSN); err != nil {
			return nil, err
		}
		a.trackAttached(alias)
		return catalog.OpenRelationalSource(ctx, sc.Name, sc.DSN, catalog.RelationalOptions{
			Alias:        alias,
			Schemas:      sc.Schemas,
			SampleValues: opts.SampleValues,
			CountRows:    opts.CountRows,
		}, logger)
	}
	return nil, fmt.Errorf("unknown source type %q", sc.Type)
}

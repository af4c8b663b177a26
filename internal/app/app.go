// Package app wires configuration, storage, services and the job queue for
// the binaries under cmd/.
package app

import (
	"context"

	"github.com/pkg/errors"

	"github.com/soaringjerry/goodenergy/internal/config"
	"github.com/soaringjerry/goodenergy/internal/db"
	"github.com/soaringjerry/goodenergy/internal/logger"
	"github.com/soaringjerry/goodenergy/internal/queue"
	"github.com/soaringjerry/goodenergy/internal/services"
	"github.com/soaringjerry/goodenergy/internal/worker"
)

type App struct {
	Config *config.Config
	Log    *logger.Logger
	Store  *db.SQLStore
	Queue  queue.Queue

	Catalog     *services.Catalog
	Aggregates  *services.AggregateService
	Answers     *services.AnswerService
	Comparisons *services.ComparisonService
	Ranking     *services.RankingService
	Dispatcher  *worker.QueueDispatcher
}

// NewLogger builds the process logger, reporting errors to Rollbar when a token is set.
func NewLogger(cfg *config.Config, component string) *logger.Logger {
	log := logger.New(logger.Options{Env: cfg.Env, Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Rollbar.Token != "" {
		log.AddHook(logger.NewRollbarHook(cfg.Rollbar.Token, cfg.Env, cfg.Commit))
	}
	log.Entry = log.WithField("app", component)
	return log
}

// New opens the database, applies migrations and builds every service.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	store, err := db.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, store.DB(), cfg.DB.Driver, cfg.DB.MigrationsDir, log); err != nil {
		_ = store.Close()
		return nil, err
	}

	q, err := openQueue(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a, err := build(cfg, log, store, q)
	if err != nil {
		_ = q.Close()
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	if cfg.Queue.Driver == "redis" {
		return queue.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	}
	return queue.NewMemoryQueue(), nil
}

func build(cfg *config.Config, log *logger.Logger, store *db.SQLStore, q queue.Queue) (*App, error) {
	catalog, err := services.NewCatalog(store, cfg.Averages.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "catalog")
	}
	dispatcher := worker.NewDispatcher(q, log).WithDelay(cfg.Queue.Delay)

	agg := services.NewAggregateService(store, catalog, log)
	agg.SetTolerance(cfg.Averages.Tolerance)
	cmp := services.NewComparisonService(store, catalog, dispatcher)
	cmp.SetWindow(cfg.Averages.Window)

	return &App{
		Config:      cfg,
		Log:         log,
		Store:       store,
		Queue:       q,
		Catalog:     catalog,
		Aggregates:  agg,
		Answers:     services.NewAnswerService(store, catalog, agg, dispatcher, log),
		Comparisons: cmp,
		Ranking:     services.NewRankingService(store),
		Dispatcher:  dispatcher,
	}, nil
}

// SeedIfEmpty loads the configured fixture into an empty database.
func (a *App) SeedIfEmpty(ctx context.Context) error {
	if a.Config.SeedFile == "" {
		return nil
	}
	empty, err := a.Store.IsEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	fx, err := db.LoadFixture(a.Config.SeedFile)
	if err != nil {
		return err
	}
	a.Log.WithField("file", a.Config.SeedFile).Info("seeding empty database")
	return db.Seed(ctx, a.Store, a.Catalog, fx)
}

// Pool builds a worker pool running the recompute handlers against a.Queue.
func (a *App) Pool() (*worker.Pool, error) {
	reg := worker.NewRegistry()
	for _, h := range []worker.Handler{
		worker.NewAverageHandler(a.Aggregates, a.Log),
		worker.NewDayHandler(a.Aggregates, a.Log),
	} {
		if err := reg.Register(h); err != nil {
			return nil, err
		}
	}
	w := a.Config.Worker
	return worker.NewPool(a.Queue, reg, a.Log, worker.Config{
		MaxConcurrency: w.MaxConcurrency,
		MaxAttempts:    w.MaxAttempts,
		PollTimeout:    w.PollTimeout,
		RetryInitial:   w.RetryInitial,
		RetryMax:       w.RetryMax,
	}), nil
}

func (a *App) Close() error {
	qerr := a.Queue.Close()
	serr := a.Store.Close()
	if serr != nil {
		return serr
	}
	return qerr
}

package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/db"
	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/internal/httpclient"
	"github.com/teranos/nlu/lang"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/ml"
	"github.com/teranos/nlu/model"
	"github.com/teranos/nlu/pipeline"
	"github.com/teranos/nlu/pulse"
	"github.com/teranos/nlu/pulse/training"
	"github.com/teranos/nlu/tools"
)

// Initialize connects to the language servers, prepares the training
// workers and opens the model store, then builds the Engine.
func Initialize(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger, emitters ...pulse.ProgressEmitter) (*Engine, error) {
	ectx, err := NewEngineContext(ctx, cfg, log, emitters...)
	if err != nil {
		return nil, err
	}
	e, err := New(ectx, cfg)
	if err != nil {
		_ = ectx.Queue.Close()
		closeAll(ectx)
		return nil, err
	}
	return e, nil
}

// NewEngineContext builds the collaborators of an Engine from cfg.
// Training progress is reported to the logger and to emitters.
func NewEngineContext(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger, emitters ...pulse.ProgressEmitter) (*EngineContext, error) {
	if log == nil {
		log = logger.ComponentLogger("engine")
	}

	env, err := NewTrainingEnv(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	ectx := &EngineContext{
		Tools:          env.Tools,
		SystemEntities: env.SystemEntities,
		Logger:         log,
	}
	if rt, ok := env.Tools.(*lang.RemoteTools); ok {
		ectx.closers = append(ectx.closers, func() error {
			rt.Provider().Close()
			return nil
		})
	}
	if env.SystemEntities != nil {
		ectx.closers = append(ectx.closers, env.SystemEntities.Flush)
	}

	transport, err := training.NewProcessTransport(cfg.Training.WorkerBinary, log.Named("worker"))
	if err != nil {
		closeAll(ectx)
		return nil, err
	}
	ectx.Queue, err = training.NewQueue(training.Options{
		Transport:  transport,
		Config:     cfg,
		MaxWorkers: cfg.Training.MaxWorkers,
		Emitter:    append(pulse.MultiEmitter{pulse.LogEmitter{Logger: log.Named("training")}}, emitters...),
		Logger:     log.Named("training"),
	})
	if err != nil {
		closeAll(ectx)
		return nil, err
	}

	if cfg.Database.StoreModels {
		conn, err := db.OpenWithMigrations(cfg.Database.Path, log.Named("db"))
		if err != nil {
			closeAll(ectx)
			return nil, errors.Wrap(err, "failed to open model store")
		}
		ectx.Store = model.NewStore(conn, log.Named("store"))
		ectx.closers = append(ectx.closers, conn.Close)
	}
	return ectx, nil
}

func closeAll(ectx *EngineContext) {
	for i := len(ectx.closers) - 1; i >= 0; i-- {
		_ = ectx.closers[i]()
	}
}

// NewTrainingEnv builds the tools a pipeline runs with: the language
// provider, the default learners and, when enabled, the Duckling system
// entity recognizer. Worker processes build theirs with it too.
func NewTrainingEnv(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (pipeline.Env, error) {
	opts := lang.OptionsFromConfig(cfg)
	opts.Logger = log.Named("lang")
	provider, err := lang.NewProvider(ctx, opts)
	if err != nil {
		return pipeline.Env{}, errors.Wrap(err, "failed to initialize language provider")
	}

	var extractor tools.SystemEntityExtractor
	var systemCache *entities.SystemEntityCache
	if sys := cfg.SystemEntities; sys.Enabled && sys.DucklingURL != "" {
		client := httpclient.New(httpclient.Options{
			Timeout:    time.Duration(sys.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.LanguageServer.MaxRetries,
		})
		duckling, err := entities.NewDucklingClient(sys.DucklingURL, client, 0)
		if err != nil {
			provider.Close()
			return pipeline.Env{}, err
		}
		extractor = duckling
		systemCache, err = entities.NewSystemEntityCache(duckling, entities.SystemCacheOptions{
			Dir:         cfg.Cache.Dir,
			VersionHash: provider.VersionHash(),
			MaxEntries:  cfg.Cache.SystemEntityEntries,
			BatchSize:   sys.BatchSize,
			Scheduler:   provider.Scheduler(),
			FlushDelay:  time.Duration(cfg.Cache.FlushDebounceSeconds) * time.Second,
			Logger:      log.Named("system-entities"),
		})
		if err != nil {
			provider.Close()
			return pipeline.Env{}, err
		}
	}

	return pipeline.Env{
		Tools:          lang.NewRemoteTools(provider, ml.NewToolkit(), extractor, int64(cfg.Training.DefaultSeed)),
		SystemEntities: systemCache,
		ListCacheSize:  cfg.Cache.ListEntityMaxEntries,
		Logger:         log,
	}, nil
}

// WatchConfig resizes the model cache whenever the config file at path
// changes. The caller stops the returned watcher.
func (e *Engine) WatchConfig(path string) (*am.ConfigWatcher, error) {
	w, err := am.NewConfigWatcher(path, e.log)
	if err != nil {
		return nil, err
	}
	w.OnReload(func(cfg *am.Config) error {
		e.log.Infow("Config reloaded, resizing model cache", "max_bytes", cfg.ModelCacheBytes())
		e.SetModelCacheSize(cfg.ModelCacheBytes())
		return nil
	})
	w.Start()
	return w, nil
}

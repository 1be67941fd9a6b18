package commands

import (
	"context"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/db"
	"github.com/teranos/nlu/engine"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/model"
	"github.com/teranos/nlu/pulse"
)

// loadConfig loads and validates the engine configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// openEngine starts an engine on the loaded configuration. Callers must Close it.
func openEngine(ctx context.Context, emitters ...pulse.ProgressEmitter) (*engine.Engine, *am.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.Initialize(ctx, cfg, logger.Logger.Named("engine"), emitters...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to start engine")
	}
	return e, cfg, nil
}

// openStore opens the model store without starting an engine.
func openStore() (*model.Store, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}
	return model.NewStore(conn, logger.Logger.Named("store")), conn.Close, nil
}

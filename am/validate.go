package am

import (
	"net/url"

	"github.com/teranos/nlu/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.ModelCacheSizeMB < 0 {
		return errors.Newf("engine.model_cache_size_mb must be >= 0, got %d", c.Engine.ModelCacheSizeMB)
	}

	for i, src := range c.LanguageServer.Sources {
		if src.Endpoint == "" {
			return errors.Newf("language_server.sources[%d].endpoint cannot be empty", i)
		}
		u, err := url.Parse(src.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Newf("language_server.sources[%d].endpoint must be an http(s) URL, got %q", i, src.Endpoint)
		}
	}
	if c.LanguageServer.TimeoutSeconds < 0 {
		return errors.Newf("language_server.timeout_seconds must be >= 0, got %d", c.LanguageServer.TimeoutSeconds)
	}
	if c.LanguageServer.MaxRetries < 0 {
		return errors.Newf("language_server.max_retries must be >= 0, got %d", c.LanguageServer.MaxRetries)
	}
	if c.LanguageServer.RequestsPerSecond < 0 {
		return errors.Newf("language_server.requests_per_second must be >= 0, got %f", c.LanguageServer.RequestsPerSecond)
	}

	if c.Training.MaxWorkers < 0 {
		return errors.Newf("training.max_workers must be >= 0, got %d", c.Training.MaxWorkers)
	}
	if c.Training.DefaultSeed < 0 {
		return errors.Newf("training.default_seed must be >= 0, got %d", c.Training.DefaultSeed)
	}

	if c.Cache.FlushDebounceSeconds < 0 {
		return errors.Newf("cache.flush_debounce_seconds must be >= 0, got %d", c.Cache.FlushDebounceSeconds)
	}

	if c.SystemEntities.Enabled {
		if c.SystemEntities.DucklingURL == "" {
			return errors.New("system_entities.duckling_url cannot be empty when enabled")
		}
		if c.SystemEntities.BatchSize <= 0 {
			return errors.Newf("system_entities.batch_size must be > 0, got %d", c.SystemEntities.BatchSize)
		}
	}

	if c.Database.KeepModels < 0 {
		return errors.Newf("database.keep_models must be >= 0, got %d", c.Database.KeepModels)
	}

	return nil
}

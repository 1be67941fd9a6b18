package am

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.model_cache_size_mb", DefaultModelCacheSizeMB)
	v.SetDefault("engine.languages", []string{})

	// Language server defaults
	v.SetDefault("language_server.domain", DefaultDomain)
	v.SetDefault("language_server.timeout_seconds", 20)
	v.SetDefault("language_server.max_retries", 3)
	v.SetDefault("language_server.requests_per_second", 0.0)
	v.SetDefault("language_server.info_poll_attempts", 15)
	v.SetDefault("language_server.info_poll_interval_seconds", 5)

	// Training defaults
	v.SetDefault("training.max_workers", 0)
	v.SetDefault("training.default_seed", DefaultSeed)
	v.SetDefault("training.worker_binary", "")

	// Cache defaults (entry counts; vectors are 300 floats each)
	v.SetDefault("cache.dir", DefaultCacheDir())
	v.SetDefault("cache.flush_debounce_seconds", DefaultFlushDebounce)
	v.SetDefault("cache.vectors_max_entries", 500000)
	v.SetDefault("cache.tokens_max_entries", 10000)
	v.SetDefault("cache.junk_words_max_entries", 10)
	v.SetDefault("cache.list_entity_max_entries", 1000)
	v.SetDefault("cache.system_entity_max_entries", 10000)

	// System entities
	v.SetDefault("system_entities.enabled", false)
	v.SetDefault("system_entities.duckling_url", "http://localhost:8000")
	v.SetDefault("system_entities.batch_size", 50)
	v.SetDefault("system_entities.timeout_seconds", 10)

	// Database
	v.SetDefault("database.path", "nlu.db")
	v.SetDefault("database.store_models", true)
	v.SetDefault("database.keep_models", 0)

	// Logging
	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 1)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("language_server.authorization", "NLU_LANG_SERVER_AUTHORIZATION")
}

// DefaultCacheDir returns ~/.nlu/cache, or a relative .nlu/cache when no home is known
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".nlu", "cache")
	}
	return filepath.Join(home, ".nlu", "cache")
}

// Default returns a Config populated only with defaults
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults are static; failing to decode them is a programming error
		panic(err)
	}
	return cfg
}

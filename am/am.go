package am

// Config represents the NLU engine configuration
type Config struct {
	Engine         EngineConfig         `mapstructure:"engine" toml:"engine"`
	LanguageServer LanguageServerConfig `mapstructure:"language_server" toml:"language_server"`
	Training       TrainingConfig       `mapstructure:"training" toml:"training"`
	Cache          CacheConfig          `mapstructure:"cache" toml:"cache"`
	SystemEntities SystemEntitiesConfig `mapstructure:"system_entities" toml:"system_entities"`
	Database       DatabaseConfig       `mapstructure:"database" toml:"database"`
	Log            LogConfig            `mapstructure:"log" toml:"log"`
}

// EngineConfig configures the engine façade and its model cache
type EngineConfig struct {
	ModelCacheSizeMB int      `mapstructure:"model_cache_size_mb" toml:"model_cache_size_mb"` // Max bytes of loaded models, in MB (default: 850)
	Languages        []string `mapstructure:"languages" toml:"languages"`                     // Languages allowed for training (empty = whatever the language server offers)
}

// LanguageServerConfig configures the remote tokenize/vectorize/POS gateway
type LanguageServerConfig struct {
	Sources                 []LanguageSource `mapstructure:"sources" toml:"sources"`
	Domain                  string           `mapstructure:"domain" toml:"domain"`                                       // Embedding domain, part of the cache version hash (default: "bp")
	TimeoutSeconds          int              `mapstructure:"timeout_seconds" toml:"timeout_seconds"`                     // Per request timeout (default: 20)
	MaxRetries              int              `mapstructure:"max_retries" toml:"max_retries"`                             // Attempts per remote call (default: 3)
	RequestsPerSecond       float64          `mapstructure:"requests_per_second" toml:"requests_per_second"`             // Per source rate limit (0 = unlimited)
	InfoPollAttempts        int              `mapstructure:"info_poll_attempts" toml:"info_poll_attempts"`               // /info attempts before giving up on a source (default: 15)
	InfoPollIntervalSeconds int              `mapstructure:"info_poll_interval_seconds" toml:"info_poll_interval_seconds"` // Delay between /info attempts (default: 5)
}

// LanguageSource is one language server endpoint
type LanguageSource struct {
	Endpoint      string `mapstructure:"endpoint" toml:"endpoint"`
	Authorization string `mapstructure:"authorization" toml:"authorization"`
}

// TrainingConfig configures training workers
type TrainingConfig struct {
	MaxWorkers   int    `mapstructure:"max_workers" toml:"max_workers"`     // Upper bound of worker processes (0 = unbounded)
	DefaultSeed  int    `mapstructure:"default_seed" toml:"default_seed"`   // Seed used when the caller gives none (default: 42)
	WorkerBinary string `mapstructure:"worker_binary" toml:"worker_binary"` // Command started as "<command> worker", shell-quoted (empty = current executable)
}

// CacheConfig configures the on-disk language caches
type CacheConfig struct {
	Dir                  string `mapstructure:"dir" toml:"dir"`                                       // Cache directory (default: ~/.nlu/cache)
	FlushDebounceSeconds int    `mapstructure:"flush_debounce_seconds" toml:"flush_debounce_seconds"` // Coalescing window of disk flushes (default: 5)
	VectorsMaxEntries    int    `mapstructure:"vectors_max_entries" toml:"vectors_max_entries"`
	TokensMaxEntries     int    `mapstructure:"tokens_max_entries" toml:"tokens_max_entries"`
	JunkWordsMaxEntries  int    `mapstructure:"junk_words_max_entries" toml:"junk_words_max_entries"`
	ListEntityMaxEntries int    `mapstructure:"list_entity_max_entries" toml:"list_entity_max_entries"`
	SystemEntityEntries  int    `mapstructure:"system_entity_max_entries" toml:"system_entity_max_entries"`
}

// SystemEntitiesConfig configures the external system entity recognizer
type SystemEntitiesConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled"`
	DucklingURL    string `mapstructure:"duckling_url" toml:"duckling_url"`
	BatchSize      int    `mapstructure:"batch_size" toml:"batch_size"`           // Inputs per recognizer call (default: 50)
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"` // default: 10
}

// DatabaseConfig configures the SQLite model store
type DatabaseConfig struct {
	Path        string `mapstructure:"path" toml:"path"`                 // default: nlu.db
	StoreModels bool   `mapstructure:"store_models" toml:"store_models"` // Persist trained models (default: true)
	KeepModels  int    `mapstructure:"keep_models" toml:"keep_models"`   // Most recent models kept when pruning (0 = keep all)
}

// LogConfig configures logging output
type LogConfig struct {
	JSON      bool `mapstructure:"json" toml:"json"`
	Verbosity int  `mapstructure:"verbosity" toml:"verbosity"`
}

// Defaults that callers read back without a viper instance
const (
	DefaultModelCacheSizeMB = 850
	DefaultSeed             = 42
	DefaultFlushDebounce    = 5
	DefaultDomain           = "bp"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// ModelCacheBytes returns the model cache capacity in bytes
func (c *Config) ModelCacheBytes() int64 {
	mb := c.Engine.ModelCacheSizeMB
	if mb <= 0 {
		mb = DefaultModelCacheSizeMB
	}
	return int64(mb) * 1024 * 1024
}

package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Remote  RemoteConfig  `mapstructure:"remote" validate:"required"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
	Engine  EngineConfig  `mapstructure:"engine" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gte=1"`
	// AllowAnyOrigin lets browsers on other hosts open the event stream
	AllowAnyOrigin bool `mapstructure:"allow_any_origin"`
}

// Generation backends
const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

// RemoteConfig selects and configures the generation service.
type RemoteConfig struct {
	// Backend is "http" for the course service or "gemini" to call the model
	// directly.
	Backend string `mapstructure:"backend" validate:"required,oneof=http gemini"`

	// BaseURL of the course service, required for the http backend
	BaseURL string `mapstructure:"base_url" validate:"required_if=Backend http,omitempty,url"`

	// RequestTimeoutSeconds bounds non-streaming calls. Streams are bounded
	// only by cancellation.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gte=1"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	ModelName         string `mapstructure:"model_name"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
}

// Snapshot store backends
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// StorageConfig selects where the engine snapshot is persisted.
type StorageConfig struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=memory sqlite postgres redis"`
	Key         string `mapstructure:"key" validate:"required"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	PostgresURL string `mapstructure:"postgres_url" validate:"required_if=Backend postgres,omitempty,url"`
	RedisAddr   string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB     int    `mapstructure:"redis_db" validate:"gte=0"`
	// RedisPassword is optional
	RedisPassword string `mapstructure:"redis_password"`
}

// EngineConfig tunes the generation engine.
type EngineConfig struct {
	QueueYieldMillis         int `mapstructure:"queue_yield_millis" validate:"gte=0"`
	TypewriterIntervalMillis int `mapstructure:"typewriter_interval_millis" validate:"gt=0"`
	TypewriterDrainTicks     int `mapstructure:"typewriter_drain_ticks" validate:"gt=0"`
	PreviousContextChars     int `mapstructure:"previous_context_chars" validate:"gte=0"`
	ChatNodeContextChars     int `mapstructure:"chat_node_context_chars" validate:"gt=0"`
}

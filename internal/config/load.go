package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "COURSEGEN"

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over values
// from the config file. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules that span config groups.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Remote.Backend == BackendGemini {
		if cfg.LLM.GeminiAPIKey == "" {
			return errors.New("config validation failed: llm.gemini_api_key is required for the gemini backend")
		}
		if cfg.LLM.ModelName == "" {
			return errors.New("config validation failed: llm.model_name is required for the gemini backend")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.allow_any_origin", false)

	v.SetDefault("remote.backend", BackendHTTP)
	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.request_timeout_seconds", 120)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("storage.backend", StorageSQLite)
	v.SetDefault("storage.key", "course-generation-state-v1")
	v.SetDefault("storage.sqlite_path", "coursegen.db")
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_password", "")

	v.SetDefault("engine.queue_yield_millis", 50)
	v.SetDefault("engine.typewriter_interval_millis", 30)
	v.SetDefault("engine.typewriter_drain_ticks", 40)
	v.SetDefault("engine.previous_context_chars", 300)
	v.SetDefault("engine.chat_node_context_chars", 3000)
}

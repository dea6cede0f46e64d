package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets environment variables for the duration of the test.
func setupEnv(t *testing.T, envVars map[string]string) {
	t.Helper()
	for name, value := range envVars {
		t.Setenv(name, value)
	}
}

// TestLoadDefaults verifies that Load fills every group from defaults when no
// environment variables are set.
func TestLoadDefaults(t *testing.T) {
	setupEnv(t, map[string]string{
		"COURSEGEN_SERVER_PORT":      "",
		"COURSEGEN_SERVER_LOG_LEVEL": "",
		"COURSEGEN_REMOTE_BACKEND":   "",
		"COURSEGEN_STORAGE_BACKEND":  "",
	})

	cfg, err := Load()

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, BackendHTTP, cfg.Remote.Backend)
	assert.Equal(t, StorageSQLite, cfg.Storage.Backend)
	assert.Equal(t, "course-generation-state-v1", cfg.Storage.Key)
	assert.Equal(t, 50, cfg.Engine.QueueYieldMillis)
	assert.Equal(t, 30, cfg.Engine.TypewriterIntervalMillis)
	assert.Equal(t, 40, cfg.Engine.TypewriterDrainTicks)
	assert.Equal(t, 300, cfg.Engine.PreviousContextChars)
}

// TestLoadFromEnv verifies that environment variables override defaults.
func TestLoadFromEnv(t *testing.T) {
	setupEnv(t, map[string]string{
		"COURSEGEN_SERVER_PORT":          "9090",
		"COURSEGEN_SERVER_LOG_LEVEL":     "debug",
		"COURSEGEN_REMOTE_BACKEND":       "gemini",
		"COURSEGEN_LLM_GEMINI_API_KEY":   "test-api-key",
		"COURSEGEN_LLM_MODEL_NAME":       "gemini-test",
		"COURSEGEN_STORAGE_BACKEND":      "redis",
		"COURSEGEN_STORAGE_REDIS_ADDR":   "localhost:6379",
		"COURSEGEN_ENGINE_QUEUE_YIELD_MILLIS": "0",
	})

	cfg, err := Load()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, BackendGemini, cfg.Remote.Backend)
	assert.Equal(t, "test-api-key", cfg.LLM.GeminiAPIKey)
	assert.Equal(t, "gemini-test", cfg.LLM.ModelName)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 0, cfg.Engine.QueueYieldMillis)
}

// TestLoadValidationErrors verifies that Load rejects invalid configuration.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
	}{
		{
			name:    "Invalid port number",
			envVars: map[string]string{"COURSEGEN_SERVER_PORT": "999999"},
		},
		{
			name:    "Invalid log level",
			envVars: map[string]string{"COURSEGEN_SERVER_LOG_LEVEL": "verbose"},
		},
		{
			name:    "Unknown remote backend",
			envVars: map[string]string{"COURSEGEN_REMOTE_BACKEND": "carrier-pigeon"},
		},
		{
			name: "Gemini backend without API key",
			envVars: map[string]string{
				"COURSEGEN_REMOTE_BACKEND":     "gemini",
				"COURSEGEN_LLM_GEMINI_API_KEY": "",
			},
		},
		{
			name: "Postgres storage without URL",
			envVars: map[string]string{
				"COURSEGEN_STORAGE_BACKEND":      "postgres",
				"COURSEGEN_STORAGE_POSTGRES_URL": "",
			},
		},
		{
			name:    "Zero typewriter drain ticks",
			envVars: map[string]string{"COURSEGEN_ENGINE_TYPEWRITER_DRAIN_TICKS": "0"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setupEnv(t, tc.envVars)

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "validation failed")
		})
	}
}

func TestValidateAcceptsMemoryStorage(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server:  ServerConfig{Port: 8080, LogLevel: "info", ShutdownTimeoutSeconds: 5},
		Remote:  RemoteConfig{Backend: BackendHTTP, BaseURL: "http://localhost:8000", RequestTimeoutSeconds: 30},
		LLM:     LLMConfig{MaxRetries: 1, RetryDelaySeconds: 1},
		Storage: StorageConfig{Backend: StorageMemory, Key: "k"},
		Engine: EngineConfig{
			TypewriterIntervalMillis: 30,
			TypewriterDrainTicks:     40,
			ChatNodeContextChars:     3000,
		},
	}
	assert.NoError(t, Validate(cfg))
}

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "error", ShutdownTimeoutSeconds: 2},
		Remote: config.RemoteConfig{
			Backend:               config.BackendHTTP,
			BaseURL:               "http://localhost:8000",
			RequestTimeoutSeconds: 5,
		},
		Storage: config.StorageConfig{Backend: config.StorageMemory, Key: "course-generation-state-v1"},
		Engine: config.EngineConfig{
			TypewriterIntervalMillis: 1,
			TypewriterDrainTicks:     4,
			PreviousContextChars:     300,
			ChatNodeContextChars:     3000,
		},
	}
}

func TestEngineConfig(t *testing.T) {
	t.Parallel()

	got := engineConfig(config.EngineConfig{
		QueueYieldMillis:         50,
		TypewriterIntervalMillis: 30,
		TypewriterDrainTicks:     40,
		PreviousContextChars:     300,
	})
	assert.Equal(t, 50*time.Millisecond, got.QueueYield)
	assert.Equal(t, 30*time.Millisecond, got.Typewriter.Interval)
	assert.Equal(t, 40, got.Typewriter.DrainTicks)
	assert.Equal(t, 300, got.PreviousContextChars)
}

func TestNewApplicationServesRoutes(t *testing.T) {
	t.Parallel()

	app, err := newApplication(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	srv := httptest.NewServer(app.setupRouter())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(srv.URL + "/api/tasks")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSQLiteStateSurvivesRestart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Backend = config.StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "coursegen.db")
	ctx := context.Background()

	first, err := newApplication(ctx, cfg, testLogger())
	require.NoError(t, err)
	_, err = first.engine.CreateTask(ctx, "course-1", "Go", []domain.Node{
		{ID: "c1", ParentID: domain.RootParentID, Name: "Basics", Level: 1},
	})
	require.NoError(t, err)
	first.cleanup()

	second, err := newApplication(ctx, cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(second.cleanup)

	restored, err := second.engine.Task("course-1")
	require.NoError(t, err)
	assert.Equal(t, "Go", restored.DisplayName)
	assert.Len(t, restored.Nodes, 1)
}

func TestNewApplicationRejectsBadBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Backend = "tape"
	_, err := newApplication(context.Background(), cfg, testLogger())
	assert.ErrorContains(t, err, `unknown storage backend "tape"`)

	cfg = testConfig()
	cfg.Remote.Backend = config.BackendGemini
	_, err = newApplication(context.Background(), cfg, testLogger())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig, "gemini needs an API key")
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	app, err := newApplication(context.Background(), testConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

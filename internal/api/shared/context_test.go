package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetTraceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	traced := SetTraceID(ctx)
	traceID := GetTraceID(traced)
	assert.Len(t, traceID, 32)
	assert.Empty(t, GetTraceID(ctx), "original context is unchanged")

	assert.Equal(t, "abc", GetTraceID(WithTraceID(ctx, "abc")))
}

func TestGetTraceIDWithInvalidContext(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), TraceIDKey, 123)
	assert.Empty(t, GetTraceID(ctx))
}

func TestGenerateTraceIDUnique(t *testing.T) {
	t.Parallel()

	const iterations = 1000
	seen := make(map[string]bool, iterations)
	for i := 0; i < iterations; i++ {
		id := generateTraceID()
		require.Len(t, id, 32)
		_, err := hex.DecodeString(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate trace ID")
		seen[id] = true
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("simulated rand failure")
}

func TestTraceIDFallsBackWhenRandomFails(t *testing.T) {
	t.Parallel()

	for name, r := range map[string]io.Reader{
		"failing reader": failingReader{},
		"short reader":   io.LimitReader(rand.Reader, TraceIDLength/2),
	} {
		t.Run(name, func(t *testing.T) {
			id := traceIDFrom(r)
			assert.Len(t, id, 32)
			_, err := hex.DecodeString(id)
			assert.NoError(t, err)
		})
	}
}

func TestFallbackTraceIDUnique(t *testing.T) {
	t.Parallel()

	const iterations = 100
	seen := make(map[string]bool, iterations)
	for i := 0; i < iterations; i++ {
		id := generateFallbackTraceID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id], "duplicate fallback trace ID")
		seen[id] = true
	}
}

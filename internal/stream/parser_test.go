package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullStream = `Hello world---METADATA---{"quote":"w","anno_summary":"s"}`

// chunkings splits s every n bytes.
func chunkings(s string, n int) [][]byte {
	var out [][]byte
	for i := 0; i < len(s); i += n {
		end := i + n
		if end > len(s) {
			end = len(s)
		}
		out = append(out, []byte(s[i:end]))
	}
	return out
}

func TestParserSplitIsChunkingIndependent(t *testing.T) {
	t.Parallel()

	for size := 1; size <= len(fullStream); size++ {
		p := NewParser()
		var live strings.Builder
		for _, chunk := range chunkings(fullStream, size) {
			live.WriteString(p.Feed(chunk))
		}

		assert.Equal(t, "Hello world", live.String(), "chunk size %d", size)
		res := p.Result()
		assert.Equal(t, "Hello world", res.Answer, "chunk size %d", size)
		require.NotNil(t, res.Metadata, "chunk size %d", size)
		assert.Equal(t, "w", res.Metadata.Quote)
		assert.Equal(t, "s", res.Metadata.AnnoSummary)
		assert.NoError(t, res.MetadataErr)
		assert.True(t, res.SentinelSeen)
		assert.Equal(t, "Hello world", p.Answer(), "chunk size %d", size)
	}
}

func TestParserNoSentinelPassthrough(t *testing.T) {
	t.Parallel()

	text := "  plain answer with no trailer\n"
	p := NewParser()
	for _, chunk := range chunkings(text, 3) {
		p.Feed(chunk)
	}

	res := p.Result()
	assert.Equal(t, text, res.Answer)
	assert.Nil(t, res.Metadata)
	assert.NoError(t, res.MetadataErr)
	assert.False(t, res.SentinelSeen)
	assert.Equal(t, text, p.Answer())
}

func TestParserBadMetadataSoftFails(t *testing.T) {
	t.Parallel()

	p := NewParser()
	_, err := io.WriteString(p, "Answer body\n---METADATA---\n{not json")
	require.NoError(t, err)

	res := p.Result()
	assert.Equal(t, "Answer body", res.Answer)
	assert.Nil(t, res.Metadata)
	assert.ErrorIs(t, res.MetadataErr, ErrInvalidMetadata)
}

func TestParserNullMetadata(t *testing.T) {
	t.Parallel()

	p := NewParser()
	p.Feed([]byte("Answer---METADATA--- null "))

	res := p.Result()
	assert.Equal(t, "Answer", res.Answer)
	assert.Nil(t, res.Metadata)
	assert.NoError(t, res.MetadataErr)
}

func TestParserMetadataExtraFields(t *testing.T) {
	t.Parallel()

	p := NewParser()
	p.Feed([]byte(`A---METADATA---{"quote":"q","anno_summary":"s","node_id":"n1","score":2}`))

	res := p.Result()
	require.NotNil(t, res.Metadata)
	assert.Equal(t, "n1", res.Metadata.NodeID)
	assert.Equal(t, float64(2), res.Metadata.Extra["score"])
}

func TestParserHoldsBackSplitRunes(t *testing.T) {
	t.Parallel()

	text := "héllo 世界"
	raw := []byte(text)
	p := NewParser()

	var deltas []string
	for i := range raw {
		if d := p.Feed(raw[i : i+1]); d != "" {
			deltas = append(deltas, d)
		}
	}

	for _, d := range deltas {
		assert.True(t, utf8.ValidString(d), "delta %q is not valid UTF-8", d)
	}
	assert.Equal(t, text, strings.Join(deltas, ""))
	assert.Equal(t, text, p.Answer())
}

func TestParserFreezesAnswerAtSentinel(t *testing.T) {
	t.Parallel()

	p := NewParser()
	assert.Equal(t, "Hello", p.Feed([]byte("Hello")))
	assert.Equal(t, " there", p.Feed([]byte(" there---META")))
	assert.Equal(t, "Hello there", p.Answer())
	assert.Equal(t, "", p.Feed([]byte("DATA---{}")))
	assert.Equal(t, "Hello there", p.Answer())
	assert.Equal(t, "", p.Feed([]byte("more")))
	assert.True(t, p.SentinelSeen())
}

func TestParserWithoutMetadata(t *testing.T) {
	t.Parallel()

	p := NewParser(WithoutMetadata())
	p.Feed([]byte("body---METADATA---{}"))

	res := p.Result()
	assert.Equal(t, "body---METADATA---{}", res.Answer)
	assert.False(t, res.SentinelSeen)
	assert.False(t, p.SentinelSeen())
}

type chunkReader struct {
	chunks [][]byte
	reads  int
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if r.reads >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(b, r.chunks[r.reads])
	r.reads++
	return n, nil
}

func TestPumpDeliversDeltas(t *testing.T) {
	t.Parallel()

	r := &chunkReader{chunks: chunkings(fullStream, 4)}
	p := NewParser()
	var got strings.Builder

	err := Pump(context.Background(), r, p, PumpOptions{
		OnDelta: func(d string) error {
			got.WriteString(d)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got.String())
	assert.Equal(t, "Hello world", p.Answer())
}

func TestParserReleasesSentinelLookalikes(t *testing.T) {
	t.Parallel()

	p := NewParser()
	assert.Equal(t, "a", p.Feed([]byte("a---MET")))
	assert.Equal(t, "---METb", p.Feed([]byte("b")))
	assert.Equal(t, "", p.Feed([]byte("--")))
	assert.Equal(t, "--", p.Flush())
	assert.Equal(t, "a---METb--", p.Answer())
	assert.Equal(t, "", p.Flush())
}

func TestPumpFlushesHeldBackTailAtEOF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks [][]byte
		want   string
	}{
		{"truncated rune", [][]byte{[]byte("ok "), {0xe4, 0xb8}}, "ok \xe4\xb8"},
		{"sentinel prefix", [][]byte{[]byte("total---METADATA--")}, "total---METADATA--"},
		{"split trailer", [][]byte{[]byte("body---MET"), []byte(`ADATA---{"quote":"q"}`)}, "body"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewParser()
			var got strings.Builder
			err := Pump(context.Background(), &chunkReader{chunks: tc.chunks}, p, PumpOptions{
				OnDelta: func(d string) error {
					got.WriteString(d)
					return nil
				},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestPumpStopsOnRequest(t *testing.T) {
	t.Parallel()

	r := &chunkReader{chunks: chunkings("abcdefgh", 2)}
	p := NewParser(WithoutMetadata())
	calls := 0

	err := Pump(context.Background(), r, p, PumpOptions{
		Stop: func() bool {
			calls++
			return calls > 2
		},
	})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, "abcd", p.Answer())
}

func TestPumpPropagatesCallbackError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := &chunkReader{chunks: chunkings("abcdef", 2)}
	err := Pump(context.Background(), r, NewParser(), PumpOptions{
		OnDelta: func(string) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestPumpHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pump(ctx, &chunkReader{chunks: chunkings("abc", 1)}, NewParser(), PumpOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

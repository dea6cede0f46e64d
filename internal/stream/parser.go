package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sentinel separates the streamed answer from its trailing metadata.
const Sentinel = "---METADATA---"

// ErrInvalidMetadata is returned in Result.MetadataErr when the text after
// the sentinel is not a JSON object. The answer is still usable.
var ErrInvalidMetadata = errors.New("invalid stream metadata")

// Metadata is the structured side-information the service appends to an
// answer.
type Metadata struct {
	// Quote is a verbatim excerpt of course text the answer refers to
	Quote string `json:"quote"`

	// AnnoSummary is a short summary suitable as a note title
	AnnoSummary string `json:"anno_summary"`

	// NodeID is the node the quote was taken from, when the service knows it
	NodeID string `json:"node_id,omitempty"`

	// Extra holds every decoded field, including the ones above
	Extra map[string]any `json:"-"`
}

// Result is the final split of a completed stream.
type Result struct {
	Answer       string
	Metadata     *Metadata
	MetadataErr  error
	SentinelSeen bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithoutMetadata disables sentinel detection. Every byte is answer text.
// Background content generation uses this mode.
func WithoutMetadata() Option {
	return func(p *Parser) {
		p.sentinel = nil
	}
}

// WithSentinel overrides the sentinel literal.
func WithSentinel(s string) Option {
	return func(p *Parser) {
		if s == "" {
			p.sentinel = nil
			return
		}
		p.sentinel = []byte(s)
	}
}

// Parser accumulates stream chunks and tracks the live answer. It is not
// safe for concurrent use; one goroutine owns a stream.
type Parser struct {
	sentinel []byte
	buf      []byte

	// decoded is the length of buf already appended to live
	decoded int
	live    strings.Builder

	// split is the byte offset of the sentinel in buf, or -1
	split  int
	frozen string
}

// NewParser creates a Parser that splits on Sentinel unless configured
// otherwise.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		sentinel: []byte(Sentinel),
		split:    -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Write implements io.Writer so a Parser can sit at the end of io.Copy.
func (p *Parser) Write(chunk []byte) (int, error) {
	p.Feed(chunk)
	return len(chunk), nil
}

// Feed appends chunk and returns the text that became visible in the live
// answer because of it. Once the sentinel is found the answer is frozen and
// Feed returns "". Incomplete UTF-8 sequences at the end of the buffer are
// held back until the rest of the rune arrives, and so is a tail that could
// be the start of the sentinel. Flush releases whatever is still held back
// when the stream ends.
func (p *Parser) Feed(chunk []byte) string {
	if len(chunk) == 0 || p.split >= 0 {
		p.buf = append(p.buf, chunk...)
		return ""
	}

	before := p.decoded
	p.buf = append(p.buf, chunk...)

	if p.sentinel != nil {
		from := len(p.buf) - len(chunk) - len(p.sentinel) + 1
		if from < 0 {
			from = 0
		}
		if i := bytes.Index(p.buf[from:], p.sentinel); i >= 0 {
			p.split = from + i
			p.frozen = string(p.buf[:p.split])
			if p.split <= before {
				return ""
			}
			return string(p.buf[before:p.split])
		}
	}

	complete := completePrefix(p.buf[:len(p.buf)-partialSentinel(p.buf, p.sentinel)])
	if complete <= before {
		return ""
	}
	delta := p.buf[before:complete]
	p.live.Write(delta)
	p.decoded = complete
	return string(delta)
}

// Flush marks every byte received so far as visible and returns the text
// Feed was still holding back. It returns "" once the sentinel was seen.
func (p *Parser) Flush() string {
	if p.split >= 0 || p.decoded >= len(p.buf) {
		return ""
	}
	rest := p.buf[p.decoded:]
	p.live.Write(rest)
	p.decoded = len(p.buf)
	return string(rest)
}

// Answer returns the live answer: everything decoded so far, or the
// pre-sentinel text once the sentinel has been seen.
func (p *Parser) Answer() string {
	if p.split >= 0 {
		return p.frozen
	}
	return p.live.String()
}

// SentinelSeen reports whether the metadata sentinel has arrived.
func (p *Parser) SentinelSeen() bool {
	return p.split >= 0
}

// Len returns the number of bytes received.
func (p *Parser) Len() int {
	return len(p.buf)
}

// Result rescans the whole buffer once and returns the final split. Without
// a sentinel the full text is the answer, untrimmed. With one, both halves
// are trimmed and the trailer is decoded as JSON; a decode failure drops the
// metadata and reports it in MetadataErr.
func (p *Parser) Result() Result {
	text := string(p.buf)
	if p.sentinel == nil {
		return Result{Answer: text}
	}

	idx := strings.Index(text, string(p.sentinel))
	if idx < 0 {
		return Result{Answer: text}
	}

	res := Result{
		Answer:       strings.TrimSpace(text[:idx]),
		SentinelSeen: true,
	}
	meta, err := decodeMetadata(strings.TrimSpace(text[idx+len(p.sentinel):]))
	if err != nil {
		res.MetadataErr = err
		return res
	}
	res.Metadata = meta
	return res
}

func decodeMetadata(raw string) (*Metadata, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty trailer", ErrInvalidMetadata)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if fields == nil {
		// A literal null trailer carries no metadata but is not malformed.
		return nil, nil
	}

	meta := &Metadata{Extra: fields}
	meta.Quote = stringField(fields, "quote")
	meta.AnnoSummary = stringField(fields, "anno_summary")
	meta.NodeID = stringField(fields, "node_id")
	return meta, nil
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// completePrefix returns the length of the longest prefix of b that does not
// end in a truncated UTF-8 sequence.
func completePrefix(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return n
			}
			return i
		}
	}
	return n
}

// partialSentinel returns the length of the longest proper prefix of
// sentinel that b ends with.
func partialSentinel(b, sentinel []byte) int {
	n := len(sentinel) - 1
	if n > len(b) {
		n = len(b)
	}
	for ; n > 0; n-- {
		if bytes.HasSuffix(b, sentinel[:n]) {
			return n
		}
	}
	return 0
}

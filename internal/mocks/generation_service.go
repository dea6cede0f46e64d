package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

// ExpandNodeCall records one ExpandNode invocation.
type ExpandNodeCall struct {
	CourseID string
	Node     domain.Node
}

// CreateNodeCall records one CreateNode invocation.
type CreateNodeCall struct {
	CourseID string
	Request  generation.NodeRequest
}

// StreamCall records one StreamNodeContent invocation.
type StreamCall struct {
	CourseID string
	Request  generation.ContentRequest
}

// MockService implements generation.Service for testing. Every method uses
// its function field when set and a deterministic default otherwise.
type MockService struct {
	CreateCourseFn      func(ctx context.Context, req generation.CourseRequest) (*generation.CourseSkeleton, error)
	ExpandNodeFn        func(ctx context.Context, courseID string, node domain.Node) ([]domain.Node, error)
	CreateNodeFn        func(ctx context.Context, courseID string, req generation.NodeRequest) (*domain.Node, error)
	StreamNodeContentFn func(ctx context.Context, courseID string, req generation.ContentRequest) (io.ReadCloser, error)
	ExtendNodeFn        func(ctx context.Context, courseID string, req generation.ExtendRequest) (string, error)
	AskFn               func(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error)

	mu                sync.Mutex
	createCourseCalls []generation.CourseRequest
	expandCalls       []ExpandNodeCall
	createNodeCalls   []CreateNodeCall
	streamCalls       []StreamCall
	extendCalls       []generation.ExtendRequest
	askCalls          []generation.AskRequest
	createdNodes      int

	// active counts calls in progress, including open streams
	active    atomic.Int32
	maxActive atomic.Int32
}

var _ generation.Service = (*MockService)(nil)

func (m *MockService) enter() {
	n := m.active.Add(1)
	for {
		prev := m.maxActive.Load()
		if n <= prev || m.maxActive.CompareAndSwap(prev, n) {
			return
		}
	}
}

func (m *MockService) leave() {
	m.active.Add(-1)
}

// CreateCourse implements generation.Service.
func (m *MockService) CreateCourse(
	ctx context.Context,
	req generation.CourseRequest,
) (*generation.CourseSkeleton, error) {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	m.createCourseCalls = append(m.createCourseCalls, req)
	m.mu.Unlock()

	if m.CreateCourseFn != nil {
		return m.CreateCourseFn(ctx, req)
	}
	return &generation.CourseSkeleton{
		CourseID:   "course-1",
		CourseName: req.Keyword,
		Nodes: []domain.Node{
			{ID: "c1", ParentID: domain.RootParentID, Name: req.Keyword + " basics", Level: 1, Kind: domain.NodeKindOriginal},
		},
	}, nil
}

// ExpandNode implements generation.Service. The default returns two children
// named after the parent.
func (m *MockService) ExpandNode(ctx context.Context, courseID string, node domain.Node) ([]domain.Node, error) {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	m.expandCalls = append(m.expandCalls, ExpandNodeCall{CourseID: courseID, Node: node})
	m.mu.Unlock()

	if m.ExpandNodeFn != nil {
		return m.ExpandNodeFn(ctx, courseID, node)
	}
	return ChildrenFor(node, 2), nil
}

// CreateNode implements generation.Service.
func (m *MockService) CreateNode(
	ctx context.Context,
	courseID string,
	req generation.NodeRequest,
) (*domain.Node, error) {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	m.createNodeCalls = append(m.createNodeCalls, CreateNodeCall{CourseID: courseID, Request: req})
	m.createdNodes++
	seq := m.createdNodes
	m.mu.Unlock()

	if m.CreateNodeFn != nil {
		return m.CreateNodeFn(ctx, courseID, req)
	}
	return &domain.Node{
		ID:       fmt.Sprintf("%s-new%d", req.ParentNodeID, seq),
		ParentID: req.ParentNodeID,
		Name:     req.NodeName,
		Level:    req.NodeLevel,
		Content:  req.NodeContent,
		Kind:     domain.NodeKindCustom,
	}, nil
}

// StreamNodeContent implements generation.Service. The default streams
// "Content for <name>." in small chunks.
func (m *MockService) StreamNodeContent(
	ctx context.Context,
	courseID string,
	req generation.ContentRequest,
) (io.ReadCloser, error) {
	m.enter()

	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, StreamCall{CourseID: courseID, Request: req})
	m.mu.Unlock()

	var (
		body io.ReadCloser
		err  error
	)
	if m.StreamNodeContentFn != nil {
		body, err = m.StreamNodeContentFn(ctx, courseID, req)
	} else {
		body = NewStream(ChunkString("Content for "+req.NodeName+".", 5)...)
	}
	if err != nil || body == nil {
		m.leave()
		return body, err
	}
	return &trackedBody{ReadCloser: body, done: m.leave}, nil
}

// ExtendNode implements generation.Service. The default returns "More on
// <name>.".
func (m *MockService) ExtendNode(
	ctx context.Context,
	courseID string,
	req generation.ExtendRequest,
) (string, error) {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	m.extendCalls = append(m.extendCalls, req)
	m.mu.Unlock()

	if m.ExtendNodeFn != nil {
		return m.ExtendNodeFn(ctx, courseID, req)
	}
	return "More on " + req.NodeName + ".", nil
}

// Ask implements generation.Service.
func (m *MockService) Ask(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
	m.enter()

	m.mu.Lock()
	m.askCalls = append(m.askCalls, req)
	m.mu.Unlock()

	var (
		body io.ReadCloser
		err  error
	)
	if m.AskFn != nil {
		body, err = m.AskFn(ctx, req)
	} else {
		body = NewStream("Answer to: "+req.Question, "---METADATA---", "{}")
	}
	if err != nil || body == nil {
		m.leave()
		return body, err
	}
	return &trackedBody{ReadCloser: body, done: m.leave}, nil
}

// MaxConcurrent returns the highest number of calls that were in progress at
// the same time.
func (m *MockService) MaxConcurrent() int {
	return int(m.maxActive.Load())
}

// CreateCourseCalls returns a copy of recorded CreateCourse requests.
func (m *MockService) CreateCourseCalls() []generation.CourseRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.CourseRequest(nil), m.createCourseCalls...)
}

// ExpandNodeCalls returns a copy of recorded ExpandNode calls.
func (m *MockService) ExpandNodeCalls() []ExpandNodeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExpandNodeCall(nil), m.expandCalls...)
}

// CreateNodeCalls returns a copy of recorded CreateNode calls.
func (m *MockService) CreateNodeCalls() []CreateNodeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CreateNodeCall(nil), m.createNodeCalls...)
}

// StreamCalls returns a copy of recorded StreamNodeContent calls.
func (m *MockService) StreamCalls() []StreamCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StreamCall(nil), m.streamCalls...)
}

// ExtendCalls returns a copy of recorded ExtendNode requests.
func (m *MockService) ExtendCalls() []generation.ExtendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.ExtendRequest(nil), m.extendCalls...)
}

// AskCalls returns a copy of recorded Ask requests.
func (m *MockService) AskCalls() []generation.AskRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.AskRequest(nil), m.askCalls...)
}

// ChildrenFor builds n child nodes of parent with predictable IDs
// ("<parent>-1", "<parent>-2", ...).
func ChildrenFor(parent domain.Node, n int) []domain.Node {
	out := make([]domain.Node, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Node{
			ID:       fmt.Sprintf("%s-%d", parent.ID, i),
			ParentID: parent.ID,
			Name:     fmt.Sprintf("%s.%d", parent.Name, i),
			Level:    parent.Level + 1,
			Kind:     domain.NodeKindOriginal,
		})
	}
	return out
}

// ChunkString splits s into pieces of at most size bytes.
func ChunkString(s string, size int) []string {
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

type trackedBody struct {
	io.ReadCloser
	once sync.Once
	done func()
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.done)
	return err
}

// Stream is an in-memory response body that returns one chunk per Read.
type Stream struct {
	mu     sync.Mutex
	chunks []string
	closed bool
}

// NewStream creates a Stream over chunks.
func NewStream(chunks ...string) *Stream {
	return &Stream{chunks: chunks}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

// Close implements io.Closer.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PipeStream is a response body fed by the test. Reads block until the test
// sends a chunk, finishes the stream, or the body is closed.
type PipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// NewPipeStream creates an empty PipeStream.
func NewPipeStream() *PipeStream {
	r, w := io.Pipe()
	return &PipeStream{r: r, w: w}
}

// Read implements io.Reader.
func (p *PipeStream) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Close implements io.Closer. Pending and future reads fail.
func (p *PipeStream) Close() error {
	return p.r.Close()
}

// Send delivers chunk to the reader. It blocks until the chunk is read or
// the body is closed, and returns an error in the latter case.
func (p *PipeStream) Send(chunk string) error {
	_, err := io.WriteString(p.w, chunk)
	return err
}

// Finish ends the stream with io.EOF.
func (p *PipeStream) Finish() {
	_ = p.w.Close()
}

// Fail ends the stream with err.
func (p *PipeStream) Fail(err error) {
	_ = p.w.CloseWithError(err)
}

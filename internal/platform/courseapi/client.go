package courseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response. It matches
// generation.ErrRemoteStatus with errors.Is.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, generation.ErrRemoteStatus) true.
func (e *StatusError) Is(target error) bool {
	return target == generation.ErrRemoteStatus
}

// Client talks to the course service.
type Client struct {
	baseURL *url.URL
	json    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

var _ generation.Service = (*Client)(nil)

// NewClient creates a Client for baseURL. timeout bounds JSON calls.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", generation.ErrInvalidConfig, baseURL)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: u,
		json:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		logger:  logger.With("component", "courseapi_client"),
	}, nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.String() + "/" + strings.Join(escaped, "/")
}

func (c *Client) newRequest(ctx context.Context, endpoint string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func statusError(req *http.Request, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &StatusError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: res.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// postJSON sends body and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, endpoint, body)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := c.json.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	c.logger.DebugContext(ctx, "course service call",
		"path", req.URL.Path,
		"status", res.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(req, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", generation.ErrInvalidResponse, req.URL.Path, err)
	}
	return nil
}

// postStream sends body and returns the open response body.
func (c *Client) postStream(ctx context.Context, endpoint string, body any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	res, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, statusError(req, res)
	}
	if res.Body == nil || res.Body == http.NoBody {
		return nil, generation.ErrNoStream
	}
	return res.Body, nil
}

// CreateCourse implements generation.Service.
func (c *Client) CreateCourse(
	ctx context.Context,
	req generation.CourseRequest,
) (*generation.CourseSkeleton, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out generation.CourseSkeleton
	if err := c.postJSON(ctx, c.endpoint("generate_course"), req, &out); err != nil {
		return nil, fmt.Errorf("generate course: %w", err)
	}
	if out.CourseID == "" {
		return nil, fmt.Errorf("%w: course response has no course_id", generation.ErrInvalidResponse)
	}
	if out.CourseName == "" {
		out.CourseName = req.Keyword
	}
	return &out, nil
}

type expandRequest struct {
	NodeID    string `json:"node_id"`
	NodeName  string `json:"node_name"`
	NodeLevel int    `json:"node_level"`
}

// ExpandNode implements generation.Service.
func (c *Client) ExpandNode(ctx context.Context, courseID string, node domain.Node) ([]domain.Node, error) {
	body := expandRequest{NodeID: node.ID, NodeName: node.Name, NodeLevel: node.Level}

	var children []domain.Node
	endpoint := c.endpoint("courses", courseID, "nodes", node.ID, "subnodes")
	if err := c.postJSON(ctx, endpoint, body, &children); err != nil {
		return nil, fmt.Errorf("expand node %s: %w", node.ID, err)
	}

	for i := range children {
		if children[i].ID == "" {
			return nil, fmt.Errorf("%w: child %d of %s has no node_id", generation.ErrInvalidResponse, i, node.ID)
		}
		if children[i].ParentID == "" {
			children[i].ParentID = node.ID
		}
		if children[i].Level == 0 {
			children[i].Level = node.Level + 1
		}
	}
	return children, nil
}

// CreateNode implements generation.Service.
func (c *Client) CreateNode(
	ctx context.Context,
	courseID string,
	req generation.NodeRequest,
) (*domain.Node, error) {
	var out domain.Node
	if err := c.postJSON(ctx, c.endpoint("courses", courseID, "nodes"), req, &out); err != nil {
		return nil, fmt.Errorf("create node under %s: %w", req.ParentNodeID, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: created node has no node_id", generation.ErrInvalidResponse)
	}
	return &out, nil
}

// StreamNodeContent implements generation.Service.
func (c *Client) StreamNodeContent(
	ctx context.Context,
	courseID string,
	req generation.ContentRequest,
) (io.ReadCloser, error) {
	endpoint := c.endpoint("courses", courseID, "nodes", req.NodeID, "redefine_stream")
	body, err := c.postStream(ctx, endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("stream content of %s: %w", req.NodeID, err)
	}
	return body, nil
}

// extendResponse accepts both spellings the course service has used for the
// appended text.
type extendResponse struct {
	NodeContent string `json:"node_content"`
	Content     string `json:"content"`
}

// ExtendNode implements generation.Service.
func (c *Client) ExtendNode(ctx context.Context, courseID string, req generation.ExtendRequest) (string, error) {
	var out extendResponse
	endpoint := c.endpoint("courses", courseID, "nodes", req.NodeID, "extend")
	if err := c.postJSON(ctx, endpoint, req, &out); err != nil {
		return "", fmt.Errorf("extend node %s: %w", req.NodeID, err)
	}
	text := out.NodeContent
	if text == "" {
		text = out.Content
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: extension of %s is empty", generation.ErrInvalidResponse, req.NodeID)
	}
	return text, nil
}

// Ask implements generation.Service.
func (c *Client) Ask(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
	body, err := c.postStream(ctx, c.endpoint("ask"), req)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return body, nil
}

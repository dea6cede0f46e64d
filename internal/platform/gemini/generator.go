package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

// models is the subset of *genai.Models the generator uses.
type models interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Generator implements generation.Service on top of the Gemini API.
type Generator struct {
	logger *slog.Logger
	config config.LLMConfig
	models models
	model  string

	// backoff returns the wait before retry number attempt (0-based)
	backoff func(attempt int) time.Duration

	mu sync.Mutex
	// outlines keeps the last known node set per course so expansions can
	// see the surrounding outline
	outlines map[string][]domain.Node
}

var _ generation.Service = (*Generator)(nil)

// New creates a Generator with a real Gemini client.
func New(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(client.Models, logger, cfg)
}

func newGenerator(m models, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	g := &Generator{
		logger:   logger.With("component", "gemini_generator"),
		config:   cfg,
		models:   m,
		model:    cfg.ModelName,
		outlines: make(map[string][]domain.Node),
	}
	g.backoff = g.jitteredBackoff()
	return g, nil
}

// jitteredBackoff computes baseDelay * 2^attempt * (0.5 + rand(0, 0.5)).
func (g *Generator) jitteredBackoff() func(int) time.Duration {
	baseDelaySeconds := g.config.RetryDelaySeconds
	if baseDelaySeconds < 1 {
		baseDelaySeconds = 2
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex

	return func(attempt int) time.Duration {
		mu.Lock()
		jitter := 0.5 + rng.Float64()*0.5
		mu.Unlock()
		seconds := float64(baseDelaySeconds) * math.Pow(2, float64(attempt)) * jitter
		return time.Duration(seconds * float64(time.Second))
	}
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

// generateJSON calls the model with retries and decodes its JSON answer into
// out. Content blocks and malformed responses are permanent; call errors are
// retried up to MaxRetries times.
func (g *Generator) generateJSON(ctx context.Context, prompt string, out any) error {
	if prompt == "" {
		return ErrEmptyPrompt
	}

	maxRetries := g.config.MaxRetries
	if maxRetries < 0 {
		g.logger.WarnContext(ctx, "invalid max retries value, using default", "max_retries", 3)
		maxRetries = 3
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	for attempt := 0; ; attempt++ {
		g.logger.DebugContext(ctx, "making gemini api call",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1)

		resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
		if err == nil {
			text, textErr := responseText(resp)
			if textErr != nil {
				return textErr
			}
			if decodeErr := json.Unmarshal([]byte(text), out); decodeErr != nil {
				return fmt.Errorf("%w: failed to parse JSON response: %v", generation.ErrInvalidResponse, decodeErr)
			}
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
		g.logger.WarnContext(ctx, "gemini api call failed",
			"attempt", attempt+1,
			"error", err)

		if attempt >= maxRetries {
			return fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, maxRetries, err)
		}

		delay := g.backoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
	}
}

func (g *Generator) remember(courseID string, nodes []domain.Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outlines[courseID] = append(g.outlines[courseID], nodes...)
}

func (g *Generator) outline(courseID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.Outline(g.outlines[courseID], 0)
}

// CreateCourse implements generation.Service.
func (g *Generator) CreateCourse(
	ctx context.Context,
	req generation.CourseRequest,
) (*generation.CourseSkeleton, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	prompt, err := render("course", req)
	if err != nil {
		return nil, err
	}
	var out outlineSchema
	if err := g.generateJSON(ctx, prompt, &out); err != nil {
		return nil, fmt.Errorf("generate course: %w", err)
	}

	var nodes []domain.Node
	for _, chapter := range out.Chapters {
		name := strings.TrimSpace(chapter.Name)
		if name == "" {
			continue
		}
		ch := domain.Node{
			ID:       uuid.NewString(),
			ParentID: domain.RootParentID,
			Name:     name,
			Level:    1,
			Kind:     domain.NodeKindOriginal,
		}
		nodes = append(nodes, ch)
		for _, section := range chapter.Sections {
			if s := strings.TrimSpace(section.Name); s != "" {
				nodes = append(nodes, domain.Node{
					ID:       uuid.NewString(),
					ParentID: ch.ID,
					Name:     s,
					Level:    2,
					Kind:     domain.NodeKindOriginal,
				})
			}
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %w", generation.ErrInvalidResponse, ErrEmptyResult)
	}

	courseName := strings.TrimSpace(out.CourseName)
	if courseName == "" {
		courseName = req.Keyword
	}
	skel := &generation.CourseSkeleton{
		CourseID:   uuid.NewString(),
		CourseName: courseName,
		Nodes:      nodes,
	}
	g.remember(skel.CourseID, nodes)

	g.logger.InfoContext(ctx, "generated course outline",
		"course_id", skel.CourseID,
		"node_count", len(nodes))
	return skel, nil
}

type expandData struct {
	Outline string
	Name    string
	Level   int
}

// ExpandNode implements generation.Service.
func (g *Generator) ExpandNode(ctx context.Context, courseID string, node domain.Node) ([]domain.Node, error) {
	prompt, err := render("expand", expandData{
		Outline: g.outline(courseID),
		Name:    node.Name,
		Level:   node.Level,
	})
	if err != nil {
		return nil, err
	}

	var out childrenSchema
	if err := g.generateJSON(ctx, prompt, &out); err != nil {
		return nil, fmt.Errorf("expand node %s: %w", node.ID, err)
	}

	children := make([]domain.Node, 0, len(out.Children))
	for _, child := range out.Children {
		if name := strings.TrimSpace(child.Name); name != "" {
			children = append(children, domain.Node{
				ID:       uuid.NewString(),
				ParentID: node.ID,
				Name:     name,
				Level:    node.Level + 1,
				Kind:     domain.NodeKindOriginal,
			})
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %w", generation.ErrInvalidResponse, ErrEmptyResult)
	}
	g.remember(courseID, children)
	return children, nil
}

// CreateNode implements generation.Service. Without a course service nodes
// are created locally and no model call is made.
func (g *Generator) CreateNode(
	ctx context.Context,
	courseID string,
	req generation.NodeRequest,
) (*domain.Node, error) {
	if strings.TrimSpace(req.NodeName) == "" {
		return nil, fmt.Errorf("%w: node name is required", generation.ErrInvalidRequest)
	}
	node := domain.Node{
		ID:       uuid.NewString(),
		ParentID: req.ParentNodeID,
		Name:     req.NodeName,
		Level:    req.NodeLevel,
		Content:  req.NodeContent,
		Kind:     domain.NodeKindCustom,
	}
	g.remember(courseID, []domain.Node{node})

	g.logger.DebugContext(ctx, "created node locally",
		"course_id", courseID,
		"node_id", node.ID)
	return &node, nil
}

// ExtendNode implements generation.Service.
func (g *Generator) ExtendNode(ctx context.Context, courseID string, req generation.ExtendRequest) (string, error) {
	prompt, err := render("extend", req)
	if err != nil {
		return "", err
	}

	var out extensionSchema
	if err := g.generateJSON(ctx, prompt, &out); err != nil {
		return "", fmt.Errorf("extend node %s: %w", req.NodeID, err)
	}
	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", fmt.Errorf("%w: %w", generation.ErrInvalidResponse, ErrEmptyResult)
	}

	g.logger.DebugContext(ctx, "generated extension",
		"course_id", courseID,
		"node_id", req.NodeID,
		"chars", len(text))
	return text, nil
}

package gemini

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/genai"

	"github.com/phrazzld/coursegen/internal/generation"
)

// streamBody is the read side of a model stream. Closing it cancels the
// underlying request.
type streamBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	b.cancel()
	return b.PipeReader.Close()
}

// openStream starts a streaming call and returns its text as a body.
func (g *Generator) openStream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	go func() {
		defer cancel()
		written := 0
		for resp, err := range g.models.GenerateContentStream(ctx, g.model, genai.Text(prompt), nil) {
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				g.logger.WarnContext(ctx, "gemini stream failed",
					"bytes_written", written,
					"error", err)
				_ = pw.CloseWithError(fmt.Errorf("gemini stream: %w", err))
				return
			}

			text, err := responseText(resp)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if text == "" {
				continue
			}
			n, err := io.WriteString(pw, text)
			written += n
			if err != nil {
				// reader closed
				return
			}
		}
		_ = pw.Close()
	}()

	return &streamBody{PipeReader: pr, cancel: cancel}, nil
}

// StreamNodeContent implements generation.Service.
func (g *Generator) StreamNodeContent(
	ctx context.Context,
	courseID string,
	req generation.ContentRequest,
) (io.ReadCloser, error) {
	if req.NodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", generation.ErrInvalidRequest)
	}
	prompt, err := render("content", req)
	if err != nil {
		return nil, err
	}
	g.logger.DebugContext(ctx, "streaming node content",
		"course_id", courseID,
		"node_id", req.NodeID)
	return g.openStream(ctx, prompt)
}

// Ask implements generation.Service.
func (g *Generator) Ask(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", generation.ErrInvalidRequest)
	}
	prompt, err := render("ask", req)
	if err != nil {
		return nil, err
	}
	return g.openStream(ctx, prompt)
}

package vertexai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/dissertia/dissertia-api/pkg/config"
	"github.com/dissertia/dissertia-api/pkg/logger"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("vertex ai returned no content")

// Request is a single-turn generation call.
type Request struct {
	System          string
	Prompt          string
	Temperature     float32
	MaxOutputTokens int32
}

// Completion is the generated text plus the token counts Vertex bills for.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Completer generates text from a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Client is a Gemini model on Vertex AI.
type Client struct {
	genai *genai.Client
	model string
}

// New dials Vertex AI with application default credentials.
func New(ctx context.Context, cfg config.AIConfig, logg *logger.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("vertex ai project id is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("vertex ai model is required")
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("create vertex ai client: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("vertex ai client ready (%s, %s)", cfg.Location, model))
	}
	return &Client{genai: client, model: model}, nil
}

func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	model := c.genai.GenerativeModel(c.model)
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	completion, err := fromResponse(resp)
	if err != nil {
		return nil, err
	}
	completion.Model = c.model
	return completion, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.genai == nil {
		return nil
	}
	return c.genai.Close()
}

func fromResponse(resp *genai.GenerateContentResponse) (*Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, ErrEmptyResponse
	}
	out := &Completion{Text: text}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

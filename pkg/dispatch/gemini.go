package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/polis-labs/polis/pkg/models"
)

// generateClient is the slice of the Gemini SDK the adapter calls.
type generateClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiClient struct {
	models generateClient
}

func newGeminiClient(ctx context.Context, apiKey string) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to build gemini client: %w", err)
	}
	return &geminiClient{models: client.Models}, nil
}

func (c *geminiClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
			Role:  "user",
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.UserPrompt}},
		Role:  "user",
	}}

	resp, err := c.models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		status := 0
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return nil, classifyErr("gemini", status, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &CallError{
			Provider:  "gemini",
			Type:      models.LLMErrorMalformed,
			Retryable: true,
			Err:       errors.New("response carried no candidates"),
		}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	comp := &Completion{Text: text.String()}
	if resp.UsageMetadata != nil {
		comp.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		comp.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return comp, nil
}

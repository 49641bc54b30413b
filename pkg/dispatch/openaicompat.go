package dispatch

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/polis-labs/polis/pkg/models"
)

// chatClient is the slice of the OpenAI SDK the adapter calls.
type chatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// openAICompatClient serves every provider speaking the Chat Completions
// protocol. A custom base URL points the same SDK at openrouter, groq, or
// mistral.
type openAICompatClient struct {
	name string
	chat chatClient
}

func newOpenAICompatClient(name, apiKey, baseURL string) *openAICompatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	oc := openai.NewClient(opts...)
	return &openAICompatClient{name: name, chat: &oc.Chat.Completions}
}

func (c *openAICompatClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}
	params.Messages = append(params.Messages, openai.UserMessage(req.UserPrompt))
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		status := 0
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			status = apierr.StatusCode
		}
		return nil, classifyErr(c.name, status, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &CallError{
			Provider:  c.name,
			Type:      models.LLMErrorMalformed,
			Retryable: true,
			Err:       errors.New("completion carried no choices"),
		}
	}
	return &Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

package invoker

import (
	"context"
	"errors"

	"github.com/sells-group/cv-extract/internal/extract"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/pkg/openrouter"
)

// OpenRouter sends calls to the OpenRouter chat completions endpoint.
type OpenRouter struct {
	client openrouter.Client
}

// NewOpenRouter wraps client.
func NewOpenRouter(client openrouter.Client) *OpenRouter {
	return &OpenRouter{client: client}
}

// Invoke requests a JSON object completion for call.
func (o *OpenRouter) Invoke(ctx context.Context, call extract.Call) (*extract.Completion, error) {
	msgs := make([]openrouter.Message, len(call.Request.Messages))
	for i, m := range call.Request.Messages {
		msgs[i] = openrouter.Message{Role: m.Role, Content: m.Content}
	}

	temp := call.Temperature
	maxTokens := call.MaxTokens
	resp, err := o.client.ChatCompletion(ctx, openrouter.ChatCompletionRequest{
		Model:          call.Model,
		Messages:       msgs,
		Temperature:    &temp,
		MaxTokens:      &maxTokens,
		ResponseFormat: openrouter.JSONObject,
	})
	if err != nil {
		var apiErr *openrouter.APIError
		if errors.As(err, &apiErr) {
			return nil, transient(err, apiErr.StatusCode)
		}
		return nil, err
	}

	choice := resp.Choices[0]
	return &extract.Completion{
		Text:         choice.Message.Content,
		FinishReason: finishReason(choice.FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func finishReason(r string) model.FinishReason {
	if r == string(model.FinishLength) {
		return model.FinishLength
	}
	return model.FinishStop
}

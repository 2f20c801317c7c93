package invoker

import (
	"context"
	"strings"

	"github.com/sells-group/cv-extract/internal/extract"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/prompt"
	"github.com/sells-group/cv-extract/pkg/anthropic"
)

// Anthropic sends calls to the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic wraps client.
func NewAnthropic(client anthropic.Client) *Anthropic {
	return &Anthropic{client: client}
}

// Invoke moves system messages into the system prompt and maps the
// max_tokens stop reason to a length finish.
func (a *Anthropic) Invoke(ctx context.Context, call extract.Call) (*extract.Completion, error) {
	var system []string
	var msgs []anthropic.Message
	for _, m := range call.Request.Messages {
		if m.Role == prompt.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	temp := call.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       call.Model,
		MaxTokens:   int64(call.MaxTokens),
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		Temperature: &temp,
	})
	if err != nil {
		return nil, transient(err, anthropic.StatusCode(err))
	}

	finish := model.FinishStop
	if resp.StopReason == anthropic.StopMaxTokens {
		finish = model.FinishLength
	}
	return &extract.Completion{
		Text:         resp.Text(),
		FinishReason: finish,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

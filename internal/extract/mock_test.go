package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cv-extract/internal/config"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/schema"
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, call Call) (*Completion, error) {
	args := m.Called(ctx, call)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Completion), args.Error(1)
}

func isContinuation(c Call) bool {
	return len(c.Request.Messages) == 2 && strings.Contains(c.Request.Messages[1].Content, "Previous response (truncated)")
}

// extraction matches the first call to modelName.
func extraction(modelName string) any {
	return mock.MatchedBy(func(c Call) bool { return c.Model == modelName && !isContinuation(c) })
}

// continuation matches a continuation call to modelName.
func continuation(modelName string) any {
	return mock.MatchedBy(func(c Call) bool { return c.Model == modelName && isContinuation(c) })
}

func stop(text string) *Completion {
	return &Completion{Text: text, FinishReason: model.FinishStop, Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 50}}
}

func lengthLimited(text string) *Completion {
	return &Completion{Text: text, FinishReason: model.FinishLength, Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 2000}}
}

func testConfig(models ...string) config.LLMConfig {
	return config.LLMConfig{
		PrimaryModel:   models[0],
		FallbackModels: models[1:],
		EnableFallback: true,
		TokenLimits: []config.ModelLimit{
			{Model: "big", Tokens: 200000},
			{Model: "small", Tokens: 8192},
		},
		DefaultTokenLimit:      8192,
		MinTokens:              2000,
		SafetyBuffer:           1000,
		Temperature:            0.1,
		TimeoutSecs:            5,
		LongTimeoutSecs:        10,
		LongDocumentChars:      20000,
		ContinuationMinMarkers: 2,
		ContinuationMaxTokens:  10000,
		ExcerptChars:           500,
	}
}

func newOrchestrator(t *testing.T, inv Invoker, cfg config.LLMConfig) *Orchestrator {
	t.Helper()
	v, err := schema.NewValidator(schema.CV())
	require.NoError(t, err)
	return New(cfg, inv, v)
}

func cvRequest() model.ExtractionRequest {
	return model.ExtractionRequest{
		DocumentID: "cv-1",
		Text:       "ANA CRUZ\nBackend engineer\nana@example.com",
		Spec:       schema.CV(),
	}
}

const (
	truncatedCV = `{"personal_information": {"first_name": "Ana", "last_name": "Cruz"}, "education": [`
	validCV     = `{"personal_information": {"first_name": "Ana", "last_name": "Cruz"}, "skills": {"technical_skills": ["Go"]}}`
	nameless    = `{"personal_information": {"first_name": "Ana"}}`
)

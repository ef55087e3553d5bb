package analyze

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/Branis333/brainink-speech/internal/prompts"
)

// AgentClient summarizes sessions through the openai-agents-go SDK. The
// SDK's default provider reads OPENAI_API_KEY from the environment.
type AgentClient struct {
	model     string
	maxTokens int
}

// NewAgentClient creates an SDK-backed summarizer for the given model.
func NewAgentClient(model string, maxTokens int) *AgentClient {
	return &AgentClient{model: model, maxTokens: maxTokens}
}

// Summarize runs a single-turn summary request and collects the streamed
// output.
func (c *AgentClient) Summarize(ctx context.Context, req Request) (*Summary, error) {
	agent := agents.New("summarizer").
		WithInstructions(prompts.SummarySystem).
		WithModel(c.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(c.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	user := prompts.Summary(req.Language, req.Speakers, req.Segments, req.DurationSeconds, req.FullText)
	events, errCh, err := runner.RunStreamedChan(ctx, agent, user)
	if err != nil {
		return nil, fmt.Errorf("summary stream start: %w", err)
	}

	var buf strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		buf.WriteString(raw.Data.Delta)
	}
	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("summary stream: %w", streamErr)
	}

	sum := parseSummary(buf.String())
	return &sum, nil
}

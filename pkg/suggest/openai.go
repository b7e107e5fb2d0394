package suggest

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const modelPrompt = "You are a code completion engine. Given the trailing " +
	"context of a source file, reply with only the text that should be " +
	"inserted at the cursor. Reply with an empty string if nothing fits."

// ModelGenerator produces suggestions with the OpenAI Responses API. Use it
// behind the same Generator contract as the rule table when an API key is
// available.
type ModelGenerator struct {
	client openai.Client
	model  string
}

// NewModelGenerator creates a model-backed generator. An empty model name
// selects gpt-4o-mini.
func NewModelGenerator(apiKey, model string) *ModelGenerator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ModelGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Generate asks the model for a completion of the trailing context.
func (g *ModelGenerator) Generate(ctx context.Context, contextText string) (string, error) {
	input := modelPrompt + "\n\nContext:\n" + contextText

	resp, err := g.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           g.model,
		MaxOutputTokens: openai.Int(256),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return "", fmt.Errorf("suggestion request failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from model")
	}
	return strings.TrimSpace(resp.OutputText()), nil
}

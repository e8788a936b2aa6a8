package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const enrichSystemPrompt = `You are a code analyst. You receive one source file and the list of its methods.
Respond with a single JSON object:
{"description": "<one sentence on the unit's responsibility>",
 "kindCorrection": "<controller|service|repository|dto|entity|configuration|listener|utility|exception or empty>",
 "methods": [{"methodName": "...", "description": "...", "logicSteps": ["..."]}]}
Describe only the listed methods. Keep descriptions to one sentence each.`

// OpenAIEnricher enriches units via the OpenAI chat completion API.
type OpenAIEnricher struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIEnricher creates an enricher from OPENAI_API_KEY and
// OPENAI_MODEL.
func NewOpenAIEnricher(logger *slog.Logger) (*OpenAIEnricher, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEnricher{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// EnrichUnit describes one unit and its methods.
func (e *OpenAIEnricher) EnrichUnit(ctx context.Context, unit Unit) (*Result, error) {
	e.logger.Debug("enriching unit", "identifier", unit.Identifier, "model", e.model)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: enrichSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(unit)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion for %s: %w", unit.Identifier, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion for %s: no choices", unit.Identifier)
	}

	var result Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("decoding enrichment of %s: %w", unit.Identifier, err)
	}

	// Models occasionally echo method names with qualifiers appended.
	requested := make(map[string]bool, len(unit.MethodNames))
	for _, name := range unit.MethodNames {
		requested[name] = true
	}
	kept := result.Methods[:0]
	for _, m := range result.Methods {
		m.MethodName = StripQualifier(m.MethodName)
		if requested[m.MethodName] {
			kept = append(kept, m)
		}
	}
	result.Methods = kept

	return &result, nil
}

func buildPrompt(unit Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unit: %s\nLanguage: %s\nStatic kind: %s\nMethods: %s\n\n",
		unit.Identifier, unit.Language, unit.Kind, strings.Join(unit.MethodNames, ", "))
	b.WriteString("Source:\n```\n")
	b.WriteString(unit.SourceText)
	b.WriteString("\n```\n")
	return b.String()
}

package agentextract

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/webextract/service/internal/apierr"
)

// extractionToolName is the single tool the model is forced to call; its
// input_schema is set per-request to an object schema carrying the
// top-level "properties" of the caller's JSON Schema (no properties when the
// caller didn't supply one), so the tool call's input IS the extraction
// result. Other top-level keywords such as "required" are not sent; the
// result is validated against the full schema after the call.
const extractionToolName = "emit_extraction"

// AnthropicClient is the production LLMClient, backed by Claude's Messages
// API. Structured output is obtained by forcing a single tool call rather
// than relying on free-form JSON in prose, since the Go SDK has no
// equivalent of a bare "JSON mode" response flag.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient constructs a client bound to apiKey and model.
func NewAnthropicClient(apiKey, model string, maxTokens int64) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

// Extract sends systemPrompt and userPrompt to Claude with tool_choice
// pinned to emit_extraction, and returns that call's raw JSON input.
func (c *AnthropicClient) Extract(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) ([]byte, error) {
	inputSchema := schema
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object"}
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        extractionToolName,
					Description: anthropic.String("Emit the extracted data as a single JSON value matching the requested shape."),
					InputSchema: anthropic.ToolInputSchemaParam{
						Type:       "object",
						Properties: inputSchema["properties"],
					},
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: extractionToolName},
		},
	})
	if err != nil {
		return nil, err
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == extractionToolName {
			return block.Input, nil
		}
	}
	return nil, apierr.New(apierr.CodeLLMProviderError, "llm response had no emit_extraction tool call")
}

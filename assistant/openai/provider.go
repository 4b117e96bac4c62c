// Package openai implements the assistant provider on the OpenAI chat
// completions API. Streams request usage reporting so the final chunk of
// every round carries the round's token counts.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dealcoach/gateway/assistant"
	"github.com/dealcoach/gateway/pkg/jsonx"
	"github.com/dealcoach/gateway/pkg/slogx"
	"github.com/dealcoach/gateway/tool"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

// maxToolRounds bounds how many times one turn may loop through tool calls
// before the provider gives up.
const maxToolRounds = 5

type Provider struct {
	client *openai.Client
	model  string
}

func New(model string, options ...option.RequestOption) *Provider {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &Provider{
		client: openai.NewClient(options...),
		model:  model,
	}
}

func (p *Provider) Stream(ctx context.Context, req assistant.Request) (<-chan assistant.StreamEvent, error) {
	params, err := p.buildRequest(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	events := make(chan assistant.StreamEvent, 10)
	go func() {
		defer close(events)
		p.run(ctx, params, &req, events)
	}()
	return events, nil
}

func (p *Provider) buildRequest(req *assistant.Request) (openai.ChatCompletionNewParams, error) {
	instructions := req.Instructions
	if strings.TrimSpace(req.AdditionalInstructions) != "" {
		instructions = instructions + "\n\n" + req.AdditionalInstructions
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(instructions),
		openai.UserMessage(req.Message),
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, def := range req.Tools {
		if def.Execute == nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("tool %s has no executor", def.Name)
		}

		jv, err := jsonx.ToDynamicJSON(def.Parameters)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert tool schema: %w", err)
		}

		fd := openai.FunctionDefinitionParam{
			Name:       openai.String(def.Name),
			Parameters: openai.F(shared.FunctionParameters(jv)),
		}
		if strings.TrimSpace(def.Description) != "" {
			fd.Description = openai.String(def.Description)
		}

		tools[i] = openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(fd),
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(p.model),
		N:           openai.Int(1),
		Temperature: openai.Float(0.1),
		StreamOptions: openai.F(openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}),
	}
	if len(tools) > 0 {
		params.Tools = openai.F(tools)
		params.ParallelToolCalls = openai.Bool(true)
	}

	return params, nil
}

func (p *Provider) run(ctx context.Context, params openai.ChatCompletionNewParams, req *assistant.Request, events chan<- assistant.StreamEvent) {
	for round := 0; round < maxToolRounds; round++ {
		compl, ok := p.streamRound(ctx, params, events)
		if !ok {
			return
		}
		if len(compl.Choices) == 0 {
			events <- assistant.Failure{Err: fmt.Errorf("completion returned no choices")}
			return
		}

		message := compl.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			events <- assistant.Terminal{Content: message.Content, Raw: compl}
			return
		}

		params.Messages = openai.F(append(
			params.Messages.Value,
			toolCallMessage(message.ToolCalls),
		))
		for _, tc := range message.ToolCalls {
			result := p.executeTool(ctx, req, tc, events)
			params.Messages = openai.F(append(
				params.Messages.Value,
				openai.ToolMessage(tc.ID, result),
			))
		}
	}

	events <- assistant.Failure{Err: fmt.Errorf("gave up after %d tool rounds", maxToolRounds)}
}

// streamRound runs one streaming completion, forwarding every chunk. It
// returns false when the round failed or the context was cancelled; a
// Failure event has already been sent in that case.
func (p *Provider) streamRound(ctx context.Context, params openai.ChatCompletionNewParams, events chan<- assistant.StreamEvent) (*openai.ChatCompletion, bool) {
	strm := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer strm.Close()

	if strm.Err() != nil {
		events <- assistant.Failure{Err: strm.Err()}
		return nil, false
	}

	var acc openai.ChatCompletionAccumulator
	for strm.Next() {
		if err := ctx.Err(); err != nil {
			events <- assistant.Failure{Err: err}
			return nil, false
		}

		chunk := strm.Current()
		acc.AddChunk(chunk)

		var content string
		if len(chunk.Choices) > 0 {
			content = chunk.Choices[0].Delta.Content
		}
		events <- assistant.Chunk{Content: content, Raw: chunk}
	}
	if strm.Err() != nil {
		events <- assistant.Failure{Err: strm.Err()}
		return nil, false
	}
	if err := ctx.Err(); err != nil {
		events <- assistant.Failure{Err: err}
		return nil, false
	}

	return &acc.ChatCompletion, true
}

func (p *Provider) executeTool(ctx context.Context, req *assistant.Request, tc openai.ChatCompletionMessageToolCall, events chan<- assistant.StreamEvent) string {
	name := tc.Function.Name
	args := tc.Function.Arguments

	events <- assistant.ToolCall{ID: tc.ID, Name: name, Arguments: args}

	def, ok := findTool(req.Tools, name)
	var result string
	if !ok {
		result = fmt.Sprintf("error: unknown function %q", name)
	} else if out, err := def.Execute(ctx, gjson.Parse(args)); err != nil {
		slog.Error("tool execution failed", slog.String("tool", name), slogx.Error(err))
		result = fmt.Sprintf("error: %v", err)
	} else {
		result = out
	}

	events <- assistant.ToolResult{Name: name, Result: result}
	return result
}

func findTool(tools []tool.Definition, name string) (tool.Definition, bool) {
	for _, def := range tools {
		if def.Name == name {
			return def, true
		}
	}
	return tool.Definition{}, false
}

func toolCallMessage(calls []openai.ChatCompletionMessageToolCall) openai.ChatCompletionMessageParamUnion {
	tcd := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, tc := range calls {
		tcd[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   openai.String(tc.ID),
			Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
			Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      openai.String(tc.Function.Name),
				Arguments: openai.String(tc.Function.Arguments),
			}),
		}
	}
	return openai.ChatCompletionMessageParam{
		Role:      openai.F(openai.ChatCompletionMessageParamRoleAssistant),
		ToolCalls: openai.F[any](tcd),
	}
}

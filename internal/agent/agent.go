// Package agent runs the assistant turn: a bounded loop of model rounds that
// may call context tools between completions.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"oreai/backend/internal/chat"
	"oreai/backend/internal/llm"
	"oreai/backend/internal/mcptools"
)

// MaxToolRounds bounds how many completions one turn may run. The model gets
// one final round even if it is still asking for tools at the limit.
const MaxToolRounds = 6

// DefaultSystemPrompt is the assistant's instructions when no prompt is
// configured or loadable.
const DefaultSystemPrompt = `You are Ore, a personal assistant with access to the user's private context through tools.
Use the available tools to look up the user's notes, preferences, and history before answering questions about them.
Answer concisely and in the language the user writes in. If a tool fails, say what you could not look up instead of guessing.`

// Streamer is the slice of the llm client the agent needs.
type Streamer interface {
	StreamChatCompletion(ctx context.Context, req llm.StreamRequest, onDelta func(string) error) (llm.StreamResult, error)
}

// Tools is the catalog the agent advertises and dispatches against.
type Tools interface {
	Definitions() []llm.ToolDefinition
	Call(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// Callbacks receive progress while the turn runs. Either may be nil. An error
// from OnToken aborts the turn, usually because the client went away.
type Callbacks struct {
	OnToken    func(delta string) error
	OnToolCall func(name string) error
}

type Agent struct {
	streamer     Streamer
	model        string
	systemPrompt string
	maxRounds    int
}

func New(streamer Streamer, model, systemPrompt string) Agent {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return Agent{
		streamer:     streamer,
		model:        model,
		systemPrompt: systemPrompt,
		maxRounds:    MaxToolRounds,
	}
}

// Run executes one assistant turn over the given history and returns the full
// message list: the history as given plus the assistant messages this turn
// produced. Tool traffic stays internal; only content-bearing assistant
// turns appear in the returned list.
func (a Agent) Run(ctx context.Context, history []chat.Message, tools Tools, callbacks Callbacks) ([]chat.Message, error) {
	conversation := make([]llm.Message, 0, len(history)+2)
	conversation = append(conversation, llm.Message{Role: "system", Content: a.systemPrompt})
	for _, message := range history {
		conversation = append(conversation, llm.Message{
			Role:    message.Role,
			Content: chat.ExtractText(message.Parts),
		})
	}

	definitions := tools.Definitions()
	all := append([]chat.Message(nil), history...)
	dispatched := make(map[string]struct{})

	for round := 0; round < a.maxRounds; round++ {
		request := llm.StreamRequest{
			Model:    a.model,
			Messages: conversation,
		}
		// Tools are withheld on the last round so the model must answer.
		if round < a.maxRounds-1 {
			request.Tools = definitions
		}

		result, err := a.streamer.StreamChatCompletion(ctx, request, callbacks.OnToken)
		if err != nil {
			return all, fmt.Errorf("model round %d: %w", round+1, err)
		}

		if strings.TrimSpace(result.Content) != "" {
			assistant := chat.Message{
				ID:    "msg_" + uuid.NewString(),
				Role:  "assistant",
				Parts: []chat.Part{{Type: "text", Text: result.Content}},
			}
			all = append(all, assistant)
		}

		if len(result.ToolCalls) == 0 {
			return all, nil
		}

		conversation = append(conversation, llm.Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			// A provider retry can replay a call id mid-stream; each id
			// runs at most once per turn.
			if call.ID != "" {
				if _, done := dispatched[call.ID]; done {
					continue
				}
				dispatched[call.ID] = struct{}{}
			}

			if callbacks.OnToolCall != nil {
				if err := callbacks.OnToolCall(call.Function.Name); err != nil {
					return all, err
				}
			}

			conversation = append(conversation, llm.Message{
				Role:       "tool",
				Content:    a.dispatch(ctx, tools, call),
				ToolCallID: call.ID,
			})
		}
	}

	return all, nil
}

func (a Agent) dispatch(ctx context.Context, tools Tools, call llm.ToolCall) string {
	arguments := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
			return fmt.Sprintf("Error: invalid arguments for %s: %v", call.Function.Name, err)
		}
	}

	output, err := tools.Call(ctx, call.Function.Name, arguments)
	if err != nil {
		return "Error: " + err.Error()
	}
	if output == "" {
		return "(no results)"
	}
	return output
}

// catalog adapts a discovered tool set to the agent's Tools interface.
type catalog struct {
	set mcptools.ToolSet
}

func Catalog(set mcptools.ToolSet) Tools {
	return catalog{set: set}
}

func (c catalog) Definitions() []llm.ToolDefinition {
	definitions := make([]llm.ToolDefinition, 0, len(c.set))
	for _, tool := range c.set {
		definitions = append(definitions, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return definitions
}

func (c catalog) Call(ctx context.Context, name string, arguments map[string]any) (string, error) {
	tool, ok := c.set[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %s", name)
	}
	return tool.Call(ctx, arguments)
}

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"oreai/backend/internal/chat"
	"oreai/backend/internal/llm"
)

type scriptedStreamer struct {
	rounds   []llm.StreamResult
	requests []llm.StreamRequest
	err      error
}

func (s *scriptedStreamer) StreamChatCompletion(_ context.Context, req llm.StreamRequest, onDelta func(string) error) (llm.StreamResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return llm.StreamResult{}, s.err
	}
	if len(s.rounds) == 0 {
		return llm.StreamResult{FinishReason: "stop"}, nil
	}

	result := s.rounds[0]
	s.rounds = s.rounds[1:]
	if onDelta != nil && result.Content != "" {
		if err := onDelta(result.Content); err != nil {
			return llm.StreamResult{}, err
		}
	}
	return result, nil
}

type fakeTools struct {
	calls   []string
	outputs map[string]string
	err     error
}

func (f *fakeTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Type: "function", Function: llm.FunctionDefinition{Name: "ore.context.search_notes"}}}
}

func (f *fakeTools) Call(_ context.Context, name string, _ map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return "", f.err
	}
	return f.outputs[name], nil
}

func userTurn(id, text string) chat.Message {
	return chat.Message{ID: id, Role: "user", Parts: []chat.Part{{Type: "text", Text: text}}}
}

func TestAgentRunsSingleRoundWithoutTools(t *testing.T) {
	streamer := &scriptedStreamer{rounds: []llm.StreamResult{
		{Content: "Hello there.", FinishReason: "stop"},
	}}

	var tokens []string
	all, err := New(streamer, "test-model", "").Run(context.Background(),
		[]chat.Message{userTurn("u1", "hi")},
		&fakeTools{},
		Callbacks{OnToken: func(delta string) error {
			tokens = append(tokens, delta)
			return nil
		}},
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("messages = %d", len(all))
	}
	last := all[len(all)-1]
	if last.Role != "assistant" || chat.ExtractText(last.Parts) != "Hello there." {
		t.Fatalf("last = %+v", last)
	}
	if !strings.HasPrefix(last.ID, "msg_") {
		t.Fatalf("assistant id = %q", last.ID)
	}
	if strings.Join(tokens, "") != "Hello there." {
		t.Fatalf("tokens = %v", tokens)
	}

	if system := streamer.requests[0].Messages[0]; system.Role != "system" || !strings.Contains(system.Content, "Ore") {
		t.Fatalf("system message = %+v", system)
	}
}

func TestAgentDispatchesToolCallsThenAnswers(t *testing.T) {
	streamer := &scriptedStreamer{rounds: []llm.StreamResult{
		{
			ToolCalls: []llm.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: llm.FunctionCall{Name: "ore.context.search_notes", Arguments: `{"query":"lisbon"}`},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "You noted Lisbon in May.", FinishReason: "stop"},
	}}
	tools := &fakeTools{outputs: map[string]string{"ore.context.search_notes": "trip: Lisbon in May"}}

	var toolEvents []string
	all, err := New(streamer, "test-model", "").Run(context.Background(),
		[]chat.Message{userTurn("u1", "when was my trip?")},
		tools,
		Callbacks{OnToolCall: func(name string) error {
			toolEvents = append(toolEvents, name)
			return nil
		}},
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "ore.context.search_notes" {
		t.Fatalf("tool calls = %v", tools.calls)
	}
	if len(toolEvents) != 1 {
		t.Fatalf("tool events = %v", toolEvents)
	}
	if got := chat.ExtractText(all[len(all)-1].Parts); got != "You noted Lisbon in May." {
		t.Fatalf("answer = %q", got)
	}

	// The second round must carry the tool result back to the model.
	second := streamer.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" || last.Content != "trip: Lisbon in May" {
		t.Fatalf("tool message = %+v", last)
	}
}

func TestAgentSkipsReplayedToolCallIDs(t *testing.T) {
	call := llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.FunctionCall{Name: "ore.context.search_notes", Arguments: `{}`},
	}
	streamer := &scriptedStreamer{rounds: []llm.StreamResult{
		{ToolCalls: []llm.ToolCall{call}, FinishReason: "tool_calls"},
		{ToolCalls: []llm.ToolCall{call}, FinishReason: "tool_calls"},
		{Content: "done", FinishReason: "stop"},
	}}
	tools := &fakeTools{outputs: map[string]string{"ore.context.search_notes": "x"}}

	_, err := New(streamer, "test-model", "").Run(context.Background(),
		[]chat.Message{userTurn("u1", "q")}, tools, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(tools.calls) != 1 {
		t.Fatalf("tool ran %d times", len(tools.calls))
	}
}

func TestAgentFeedsToolErrorsBackToModel(t *testing.T) {
	streamer := &scriptedStreamer{rounds: []llm.StreamResult{
		{
			ToolCalls: []llm.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: llm.FunctionCall{Name: "ore.context.search_notes", Arguments: `{}`},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "I could not check your notes.", FinishReason: "stop"},
	}}
	tools := &fakeTools{err: errors.New("mcp session lost")}

	_, err := New(streamer, "test-model", "").Run(context.Background(),
		[]chat.Message{userTurn("u1", "q")}, tools, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	second := streamer.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "mcp session lost") {
		t.Fatalf("tool message = %+v", last)
	}
}

func TestAgentWithholdsToolsOnFinalRound(t *testing.T) {
	persistent := llm.StreamResult{
		ToolCalls: []llm.ToolCall{{
			Type:     "function",
			Function: llm.FunctionCall{Name: "ore.context.search_notes", Arguments: `{}`},
		}},
		FinishReason: "tool_calls",
	}
	streamer := &scriptedStreamer{rounds: []llm.StreamResult{
		persistent, persistent, persistent, persistent, persistent,
		{Content: "final answer", FinishReason: "stop"},
	}}
	tools := &fakeTools{outputs: map[string]string{"ore.context.search_notes": "x"}}

	all, err := New(streamer, "test-model", "").Run(context.Background(),
		[]chat.Message{userTurn("u1", "q")}, tools, Callbacks{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(streamer.requests) != MaxToolRounds {
		t.Fatalf("rounds = %d", len(streamer.requests))
	}
	if len(streamer.requests[MaxToolRounds-1].Tools) != 0 {
		t.Fatal("final round still advertised tools")
	}
	if got := chat.ExtractText(all[len(all)-1].Parts); got != "final answer" {
		t.Fatalf("answer = %q", got)
	}
}

func TestAgentPropagatesModelErrors(t *testing.T) {
	streamer := &scriptedStreamer{err: errors.New("upstream 502")}
	_, err := New(streamer, "test-model", "").Run(context.Background(),
		[]chat.Message{userTurn("u1", "q")}, &fakeTools{}, Callbacks{})
	if err == nil || !strings.Contains(err.Error(), "upstream 502") {
		t.Fatalf("err = %v", err)
	}
}

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"oreai/backend/internal/config"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func testClient(serverURL string) Client {
	return NewClient(config.Config{
		OpenRouterAPIKey:  "test-key",
		OpenRouterBaseURL: serverURL,
	}, nil)
}

func TestStreamChatCompletionForwardsContentDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})
	defer server.Close()

	var deltas []string
	result, err := testClient(server.URL).StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if result.Content != "Hello" {
		t.Fatalf("content = %q", result.Content)
	}
	if strings.Join(deltas, "|") != "Hel|lo" {
		t.Fatalf("deltas = %v", deltas)
	}
	if result.FinishReason != "stop" {
		t.Fatalf("finish reason = %q", result.FinishReason)
	}
	if len(result.ToolCalls) != 0 {
		t.Fatalf("tool calls = %+v", result.ToolCalls)
	}
}

func TestStreamChatCompletionAssemblesToolCallFragments(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"ore.context.search_notes","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"lisbon\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	})
	defer server.Close()

	result, err := testClient(server.URL).StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", result.ToolCalls)
	}
	call := result.ToolCalls[0]
	if call.ID != "call_1" || call.Function.Name != "ore.context.search_notes" {
		t.Fatalf("call = %+v", call)
	}
	if call.Function.Arguments != `{"query":"lisbon"}` {
		t.Fatalf("arguments = %q", call.Function.Arguments)
	}
	if result.FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q", result.FinishReason)
	}
}

func TestStreamChatCompletionSurfacesInBandError(t *testing.T) {
	server := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"message":"provider overloaded"}}`,
	})
	defer server.Close()

	_, err := testClient(server.URL).StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil || err.Error() != "provider overloaded" {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamChatCompletionRejectsUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := testClient(server.URL).StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "openai/gpt-oss-120b",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamChatCompletionRequiresAPIKey(t *testing.T) {
	client := NewClient(config.Config{OpenRouterBaseURL: "http://127.0.0.1:0"}, nil)
	_, err := client.StreamChatCompletion(context.Background(), StreamRequest{
		Model:    "m",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err != ErrMissingAPIKey {
		t.Fatalf("err = %v", err)
	}
}

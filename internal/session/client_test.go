package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harborai/boost/internal/chat"
)

func sseContent(w http.ResponseWriter, content string) {
	chunk := openai.ChatCompletionStreamResponse{
		ID:     "chatcmpl-upstream",
		Object: "chat.completion.chunk",
		Model:  "llama3",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: content},
		}},
	}
	raw, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func sseToolDelta(w http.ResponseWriter, index int, id, name, args string) {
	idx := index
	chunk := openai.ChatCompletionStreamResponse{
		ID:     "chatcmpl-upstream",
		Object: "chat.completion.chunk",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{
					Index:    &idx,
					ID:       id,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
	raw, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func sseFinish(w http.ResponseWriter, reason openai.FinishReason) {
	chunk := openai.ChatCompletionStreamResponse{
		ID:     "chatcmpl-upstream",
		Object: "chat.completion.chunk",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta:        openai.ChatCompletionStreamChoiceDelta{},
			FinishReason: reason,
		}},
	}
	raw, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", raw)
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func sessionFor(t *testing.T, upstream *httptest.Server) *Session {
	t.Helper()
	cfg := testConfig(true)
	cfg.ExtraLLMParams = map[string]any{"temperature": 0.35}
	s := New(Options{
		URL:    upstream.URL + "/v1",
		Model:  "llama3",
		Config: cfg,
		Client: upstream.Client(),
	})
	c := chat.New()
	c.User("hello")
	s.BindChat(c)
	return s
}

func TestStreamChatCompletion_EmitsAndAggregates(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseContent(w, "Hel")
		sseContent(w, "lo!")
		sseFinish(w, openai.FinishReasonStop)
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	got, err := s.StreamChatCompletion(context.Background(), CompletionOptions{Chat: s.Chat})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello!" {
		t.Fatalf("aggregated content = %q", got)
	}

	if gotBody["model"] != "llama3" {
		t.Fatalf("model = %v", gotBody["model"])
	}
	if gotBody["stream"] != true {
		t.Fatalf("stream flag missing")
	}
	if gotBody["temperature"] != 0.35 {
		t.Fatalf("extra params not merged: %v", gotBody["temperature"])
	}

	s.Done()
	primary := drain(s.Primary())
	if len(primary) != 3 {
		t.Fatalf("expected 2 chunks + terminator, got %d", len(primary))
	}
	if contentOf(t, primary[0]) != "Hel" || contentOf(t, primary[1]) != "lo!" {
		t.Fatalf("chunks not re-emitted in order: %v", primary)
	}
}

func TestStreamChatCompletion_SplitDataLines(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")

		chunk := openai.ChatCompletionStreamResponse{
			ID:     "chatcmpl-upstream",
			Object: "chat.completion.chunk",
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: "whole"},
			}},
		}
		raw, _ := json.Marshal(chunk)
		line := fmt.Sprintf("data: %s\n\n", raw)

		// One SSE line delivered in two network writes.
		fmt.Fprint(w, line[:len(line)/2])
		flusher.Flush()
		fmt.Fprint(w, line[len(line)/2:])
		flusher.Flush()
		sseFinish(w, openai.FinishReasonStop)
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	got, err := s.StreamChatCompletion(context.Background(), CompletionOptions{Chat: s.Chat})
	if err != nil {
		t.Fatal(err)
	}
	if got != "whole" {
		t.Fatalf("split line mangled: %q", got)
	}
}

func TestStreamChatCompletion_LocalToolLoop(t *testing.T) {
	var pass atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if pass.Add(1) == 1 {
			// Fragmented call: id and name stick, arguments concatenate.
			sseToolDelta(w, 0, "call_1", "__tool_lookup", `{"que`)
			sseToolDelta(w, 0, "", "", `ry":"h`)
			sseToolDelta(w, 0, "", "", `i"}`)
			sseFinish(w, openai.FinishReasonToolCalls)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		messages := body["messages"].([]any)
		last := messages[len(messages)-1].(map[string]any)
		if last["role"] != "tool" || last["tool_call_id"] != "call_1" {
			t.Errorf("tool turn not forwarded: %v", last)
		}
		sseContent(w, "done")
		sseFinish(w, openai.FinishReasonStop)
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)

	var calls atomic.Int32
	var gotQuery string
	err := s.Tools.Set("lookup", "look a thing up", struct {
		Query string `json:"query" jsonschema:"required"`
	}{}, func(ctx context.Context, args map[string]any) (string, error) {
		calls.Add(1)
		gotQuery, _ = args["query"].(string)
		return "found it", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.StreamChatCompletion(context.Background(), CompletionOptions{Chat: s.Chat})
	if err != nil {
		t.Fatal(err)
	}
	if got != "done" {
		t.Fatalf("final content = %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("local tool invoked %d times", calls.Load())
	}
	if gotQuery != "hi" {
		t.Fatalf("fragmented arguments reassembled to %q", gotQuery)
	}

	history := s.Chat.History()
	var toolTurn *chat.Message
	for i := range history {
		if history[i].Role == chat.RoleTool {
			toolTurn = &history[i]
		}
	}
	if toolTurn == nil {
		t.Fatalf("no tool turn recorded: %v", history)
	}
	if toolTurn.ToolCallID != "call_1" || toolTurn.Content != "found it" {
		t.Fatalf("tool turn = %+v", toolTurn)
	}
}

func TestStreamChatCompletion_ForwardsForeignToolCall(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseToolDelta(w, 0, "call_9", "get_weather", `{"city":"Oslo"}`)
		sseFinish(w, openai.FinishReasonToolCalls)
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	got, err := s.StreamChatCompletion(context.Background(), CompletionOptions{Chat: s.Chat})
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("unexpected content %q", got)
	}

	s.Done()
	primary := drain(s.Primary())
	found := false
	for _, payload := range primary {
		if strings.Contains(payload, `"get_weather"`) && strings.Contains(payload, `"tool_calls"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("assembled foreign call never forwarded: %v", primary)
	}
}

func TestStreamChatCompletion_SkipsMalformedChunk(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		sseContent(w, "ok")
		sseFinish(w, openai.FinishReasonStop)
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	got, err := s.StreamChatCompletion(context.Background(), CompletionOptions{Chat: s.Chat})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Fatalf("stream did not survive malformed chunk: %q", got)
	}
}

func TestChatCompletion_UpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusBadGateway)
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	_, err := s.ChatCompletion(context.Background(), CompletionOptions{Chat: s.Chat})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error lost status or body snippet: %v", err)
	}
}

func TestChatCompletion_PromptForm(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		messages := body["messages"].([]any)
		if len(messages) != 1 {
			t.Errorf("prompt form produced %d messages", len(messages))
		}
		turn := messages[0].(map[string]any)
		if turn["role"] != "user" || turn["content"] != "summarize 3 items" {
			t.Errorf("prompt turn = %v", turn)
		}
		if _, streaming := body["stream"]; streaming {
			t.Errorf("non-streaming call carried a stream flag")
		}
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: chat.RoleAssistant, Content: "fine"},
			}},
		})
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	got, err := s.ChatCompletionContent(context.Background(), CompletionOptions{
		Prompt:     "summarize %d items",
		PromptArgs: []any{3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "fine" {
		t.Fatalf("content = %q", got)
	}
}

func TestChatCompletionJSON_SchemaRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		format, ok := body["response_format"].(map[string]any)
		if !ok || format["type"] != "json_schema" {
			t.Errorf("response_format missing: %v", body["response_format"])
		}
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: chat.RoleAssistant, Content: `{"answer":42}`},
			}},
		})
	}))
	defer upstream.Close()

	s := sessionFor(t, upstream)
	var out struct {
		Answer int `json:"answer"`
	}
	if err := s.ChatCompletionJSON(context.Background(), CompletionOptions{Prompt: "count"}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != 42 {
		t.Fatalf("answer = %d", out.Answer)
	}
}

func TestConsumeStream_Aggregates(t *testing.T) {
	s := newTestSession(t, true)
	s.EmitMessage("Hel")
	s.EmitMessage("lo")
	s.Done()

	resp, err := ConsumeStream(context.Background(), s.Primary())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Object != "chat.completion" {
		t.Fatalf("object = %q", resp.Object)
	}
	if resp.ID != "chatcmpl-1" {
		t.Fatalf("id not taken from the first chunk: %q", resp.ID)
	}
	if Content(resp) != "Hello" {
		t.Fatalf("content = %q", Content(resp))
	}
	if resp.Choices[0].FinishReason != openai.FinishReasonStop {
		t.Fatalf("finish reason = %q", resp.Choices[0].FinishReason)
	}
}

func TestServe_NilApplyStreamsPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseContent(w, "pass")
		sseFinish(w, openai.FinishReasonStop)
	}))
	defer upstream.Close()

	store := NewStore()
	s := sessionFor(t, upstream)
	out := s.Serve(context.Background(), store, nil)

	got := drain(out)
	if len(got) != 2 {
		t.Fatalf("expected chunk + terminator, got %v", got)
	}
	if contentOf(t, got[0]) != "pass" {
		t.Fatalf("content = %q", contentOf(t, got[0]))
	}
	if got[1] != Terminator {
		t.Fatalf("stream not terminated")
	}
	if store.Len() != 0 {
		t.Fatalf("session not removed from the store")
	}
}

func TestServe_PanicStillTerminates(t *testing.T) {
	store := NewStore()
	s := newTestSession(t, true)
	out := s.Serve(context.Background(), store, func(ctx context.Context, c *chat.Chat, s *Session) error {
		panic("boom")
	})

	got := drain(out)
	if len(got) == 0 || got[len(got)-1] != Terminator {
		t.Fatalf("panicking module left the stream open: %v", got)
	}
	if store.Len() != 0 {
		t.Fatalf("session leaked in the store")
	}
}

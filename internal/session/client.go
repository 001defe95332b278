package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/tools"
)

// maxErrorBody caps how much of an upstream error body gets logged.
const maxErrorBody = 2048

// CompletionOptions selects the input and per-call parameters of one
// upstream call. Exactly one of Chat, Messages or Prompt should be set;
// Chat wins, Prompt is formatted into a single user turn.
type CompletionOptions struct {
	Chat     *chat.Chat
	Messages []chat.Message

	// Prompt is a fmt format string expanded with PromptArgs.
	Prompt     string
	PromptArgs []any

	// Schema is a struct prototype; when set, the request carries a
	// response_format asking for JSON conforming to the derived schema.
	Schema     any
	SchemaName string

	// Params is merged over the session's forwarded parameters.
	Params map[string]any
}

func (o CompletionOptions) messages() ([]chat.Message, error) {
	switch {
	case o.Chat != nil:
		return o.Chat.History(), nil
	case o.Messages != nil:
		return o.Messages, nil
	case o.Prompt != "":
		content := o.Prompt
		if len(o.PromptArgs) > 0 {
			content = fmt.Sprintf(o.Prompt, o.PromptArgs...)
		}
		return []chat.Message{{Role: chat.RoleUser, Content: content}}, nil
	}
	return nil, errors.New("session: completion needs a chat, messages or a prompt")
}

// body assembles the open JSON object POSTed upstream: the configured extra
// params, the session's forwarded params, then per-call params, with the
// model and messages applied last.
func (s *Session) body(opts CompletionOptions, stream bool) (map[string]any, error) {
	messages, err := opts.messages()
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	if s.cfg != nil {
		for k, v := range s.cfg.ExtraLLMParams {
			body[k] = v
		}
	}
	for k, v := range s.Params {
		body[k] = v
	}
	for k, v := range opts.Params {
		body[k] = v
	}

	body["model"] = s.Model
	body["messages"] = messages
	if stream {
		body["stream"] = true
	} else {
		delete(body, "stream")
	}

	if opts.Schema != nil {
		name := opts.SchemaName
		if name == "" {
			name = "response"
		}
		schema, err := tools.SchemaFor(opts.Schema)
		if err != nil {
			return nil, fmt.Errorf("derive response schema: %w", err)
		}
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": schema,
			},
		}
	}

	// Advertise local tools alongside whatever the client forwarded.
	if defs := s.Tools.Definitions(); len(defs) > 0 {
		merged := make([]any, 0, len(defs))
		if forwarded, ok := body["tools"].([]any); ok {
			merged = append(merged, forwarded...)
		}
		for _, def := range defs {
			merged = append(merged, def)
		}
		body["tools"] = merged
	}

	return body, nil
}

// post issues the upstream request. The caller owns the response body.
func (s *Session) post(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := s.URL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if len(s.Query) > 0 {
		req.URL.RawQuery = s.Query.Encode()
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("upstream %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// ChatCompletion runs a non-streaming completion and returns the decoded
// response object.
func (s *Session) ChatCompletion(ctx context.Context, opts CompletionOptions) (*openai.ChatCompletionResponse, error) {
	body, err := s.body(opts, false)
	if err != nil {
		return nil, err
	}
	resp, err := s.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return &out, nil
}

// ChatCompletionContent runs a non-streaming completion and resolves the
// content of the first choice.
func (s *Session) ChatCompletionContent(ctx context.Context, opts CompletionOptions) (string, error) {
	resp, err := s.ChatCompletion(ctx, opts)
	if err != nil {
		return "", err
	}
	return Content(resp), nil
}

// ChatCompletionJSON runs a schema-constrained completion and unmarshals
// the JSON content into out.
func (s *Session) ChatCompletionJSON(ctx context.Context, opts CompletionOptions, out any) error {
	if opts.Schema == nil {
		opts.Schema = out
	}
	resp, err := s.ChatCompletion(ctx, opts)
	if err != nil {
		return err
	}
	content := Content(resp)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("resolve structured response: %w", err)
	}
	return nil
}

// Content extracts choices[0].message.content.
func Content(resp *openai.ChatCompletionResponse) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// toolCallAccumulator reassembles a tool call from streamed deltas.
// The first non-empty id and name stick; argument fragments concatenate in
// arrival order.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (a *toolCallAccumulator) merge(delta openai.ToolCall) {
	if a.id == "" && delta.ID != "" {
		a.id = delta.ID
	}
	if a.name == "" && delta.Function.Name != "" {
		a.name = delta.Function.Name
	}
	a.args.WriteString(delta.Function.Arguments)
}

func (a *toolCallAccumulator) call(index int) openai.ToolCall {
	idx := index
	return openai.ToolCall{
		Index: &idx,
		ID:    a.id,
		Type:  openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      a.name,
			Arguments: a.args.String(),
		},
	}
}

// streamResult is the outcome of one upstream streaming pass.
type streamResult struct {
	content      string
	finishReason openai.FinishReason
	toolCalls    []openai.ToolCall
}

// StreamChatCompletion runs a streaming completion, emitting every content
// chunk through the session pipeline, executing local tool calls in a loop,
// and returns the fully accumulated text.
//
// Tool dispatch: when the stream finishes with tool_calls (or produced no
// content but assembled at least one call), calls naming a non-local tool
// are forwarded to the client as a chunk and the method returns; local
// calls are executed, their results appended as tool turns, and the
// upstream call is re-issued with the updated chat.
func (s *Session) StreamChatCompletion(ctx context.Context, opts CompletionOptions) (string, error) {
	// The tool loop needs a chat to append turns to.
	if opts.Chat == nil && s.Chat != nil && opts.Messages == nil && opts.Prompt == "" {
		opts.Chat = s.Chat
	}

	var total strings.Builder
	for {
		result, err := s.streamOnce(ctx, opts)
		if err != nil {
			return total.String(), err
		}
		total.WriteString(result.content)

		wantsTools := result.finishReason == openai.FinishReasonToolCalls ||
			(result.content == "" && len(result.toolCalls) > 0)
		if !wantsTools || len(result.toolCalls) == 0 {
			return total.String(), nil
		}

		for _, call := range result.toolCalls {
			if !s.Tools.IsLocal(call.Function.Name) {
				// Not ours: hand the assembled call to the client and stop;
				// the caller controls the next turn.
				s.EmitToolCall(result.toolCalls)
				return total.String(), nil
			}
		}

		if opts.Chat == nil {
			// Prompt/messages form: materialize a chat so the loop can
			// carry the tool turns forward.
			messages, err := opts.messages()
			if err != nil {
				return total.String(), err
			}
			opts.Chat = chat.FromMessages(messages)
			opts.Prompt = ""
			opts.Messages = nil
		}

		opts.Chat.ToolCall(result.toolCalls)
		for _, call := range result.toolCalls {
			s.runLocalTool(ctx, opts.Chat, call)
		}
	}
}

// runLocalTool executes one assembled local call and appends the result as
// a tool turn. Failures land in the tool turn too so the model can see them.
func (s *Session) runLocalTool(ctx context.Context, c *chat.Chat, call openai.ToolCall) {
	args := map[string]any{}
	raw := call.Function.Arguments
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			// Unparseable arguments degrade to a single query string.
			args = map[string]any{"query": raw}
		}
	}

	result, err := s.Tools.Call(ctx, call.Function.Name, args)
	if err != nil {
		s.logger.Warn("local tool failed", "tool", call.Function.Name, "error", err)
		result = fmt.Sprintf("Error: %v", err)
	}
	c.Tool(call.ID, result)
}

// StreamFinalCompletion marks the session's final stream and runs a
// streaming completion; final chunks always pass the output gate.
func (s *Session) StreamFinalCompletion(ctx context.Context, opts CompletionOptions) (string, error) {
	s.SetFinalStream(true)
	return s.StreamChatCompletion(ctx, opts)
}

// streamOnce performs a single upstream streaming pass.
func (s *Session) streamOnce(ctx context.Context, opts CompletionOptions) (*streamResult, error) {
	body, err := s.body(opts, true)
	if err != nil {
		return nil, err
	}
	resp, err := s.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &streamResult{}
	accumulators := map[int]*toolCallAccumulator{}
	var content strings.Builder

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			s.consumeLine(strings.TrimRight(line, "\r\n"), &content, accumulators, result)
		}
		if err != nil {
			if err != io.EOF {
				// Transport hiccup mid-stream: surface what we have.
				s.logger.Error("upstream stream read failed", "error", err)
			}
			break
		}
	}

	result.content = content.String()
	indexes := make([]int, 0, len(accumulators))
	for idx := range accumulators {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		result.toolCalls = append(result.toolCalls, accumulators[idx].call(idx))
	}
	return result, nil
}

// consumeLine handles one SSE payload line. Comment lines and blanks are
// skipped; an unparseable data line is logged and dropped, streaming
// continues.
func (s *Session) consumeLine(line string, content *strings.Builder, accumulators map[int]*toolCallAccumulator, result *streamResult) {
	if line == "" || strings.HasPrefix(line, ":") {
		return
	}
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return
	}
	data = strings.TrimSpace(data)
	if data == "" || data == "[DONE]" {
		return
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		s.logger.Error("unparseable upstream chunk", "error", err, "line", data)
		return
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		result.finishReason = choice.FinishReason
	}

	if choice.Delta.Content != "" {
		content.WriteString(choice.Delta.Content)
		s.EmitMessage(choice.Delta.Content)
	}

	for _, delta := range choice.Delta.ToolCalls {
		index := 0
		if delta.Index != nil {
			index = *delta.Index
		}
		acc := accumulators[index]
		if acc == nil {
			acc = &toolCallAccumulator{}
			accumulators[index] = acc
		}
		acc.merge(delta)
	}
}

// ConsumeStream aggregates a serialized chunk stream into a single
// non-streaming completion object, suitable for a JSON response.
func ConsumeStream(ctx context.Context, stream <-chan []byte) (*openai.ChatCompletionResponse, error) {
	var content strings.Builder
	var toolCalls []openai.ToolCall
	out := &openai.ChatCompletionResponse{
		Object: "chat.completion",
	}
	finish := openai.FinishReasonStop

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case payload, ok := <-stream:
			if !ok {
				out.Choices = []openai.ChatCompletionChoice{{
					Message: openai.ChatCompletionMessage{
						Role:      chat.RoleAssistant,
						Content:   content.String(),
						ToolCalls: toolCalls,
					},
					FinishReason: finish,
				}}
				return out, nil
			}

			line := strings.TrimSpace(string(payload))
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				continue
			}

			var chunk openai.ChatCompletionStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if out.ID == "" {
				out.ID = chunk.ID
				out.Created = chunk.Created
				out.Model = chunk.Model
				out.SystemFingerprint = chunk.SystemFingerprint
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			content.WriteString(choice.Delta.Content)
			toolCalls = append(toolCalls, choice.Delta.ToolCalls...)
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}
}

// chat.Completer implementation, used by the Chat advance helpers.

// Complete runs a non-streaming completion over the given chat.
func (s *Session) Complete(ctx context.Context, c *chat.Chat, params map[string]any) (*openai.ChatCompletionResponse, error) {
	return s.ChatCompletion(ctx, CompletionOptions{Chat: c, Params: params})
}

// StreamComplete runs an emitting streaming completion over the given chat.
func (s *Session) StreamComplete(ctx context.Context, c *chat.Chat, params map[string]any) (string, error) {
	return s.StreamChatCompletion(ctx, CompletionOptions{Chat: c, Params: params})
}

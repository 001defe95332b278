package session

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/config"
)

// Terminator is the literal end-of-stream marker of the SSE protocol.
const Terminator = "data: [DONE]\n\n"

// systemFingerprint is the fixed fingerprint stamped on minted chunks.
const systemFingerprint = "fp_boost"

// ListenerEvent is the additive envelope sent to listener queues only.
// Consumers must tolerate its presence between standard chunks.
type ListenerEvent struct {
	Object string `json:"object"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

// mintChunk builds a chat.completion.chunk with a session-monotonic id.
func (s *Session) mintChunk(delta openai.ChatCompletionStreamChoiceDelta, finishReason openai.FinishReason) openai.ChatCompletionStreamResponse {
	s.mu.Lock()
	s.chunkSeq++
	seq := s.chunkSeq
	s.mu.Unlock()

	return openai.ChatCompletionStreamResponse{
		ID:                fmt.Sprintf("chatcmpl-%d", seq),
		Object:            "chat.completion.chunk",
		Created:           nowUnix(),
		Model:             s.Model,
		SystemFingerprint: systemFingerprint,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// serialize renders a chunk as an SSE data line.
func serialize(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return []byte("data: " + string(raw) + "\n\n")
}

// emit fans a serialized chunk out to the primary queue and every listener.
// The primary send honors the intermediate output gate; listener queues are
// never gated and never block the producer.
func (s *Session) emit(payload []byte, listenerOnly bool) {
	if payload == nil {
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.streaming = true
	gateOpen := s.cfg == nil || s.cfg.IntermediateOutput || s.finalStream
	sendPrimary := !listenerOnly && gateOpen
	if sendPrimary {
		s.inflight.Add(1)
	}
	for _, l := range s.listeners {
		select {
		case l <- payload:
		default:
			// A stalled listener drops chunks rather than stalling the stream.
		}
	}
	s.mu.Unlock()

	if sendPrimary {
		select {
		case s.primary <- payload:
		case <-s.cancelled:
		}
		s.inflight.Done()
	}
}

// EmitMessage emits raw text as a content chunk.
func (s *Session) EmitMessage(content string) {
	if content == "" {
		return
	}
	chunk := s.mintChunk(openai.ChatCompletionStreamChoiceDelta{Content: content}, "")
	s.emit(serialize(chunk), false)
}

// EmitStatus renders a status message with the configured style and emits it.
func (s *Session) EmitStatus(text string) error {
	style := config.StatusPlain
	if s.cfg != nil {
		style = s.cfg.StatusStyle
	}
	if rendered := style.Render(text); rendered != "" {
		s.EmitMessage(rendered)
	}
	s.emitListenerEvent("boost.status", text)
	return nil
}

// EmitArtifact emits an HTML artifact as a fenced content chunk.
func (s *Session) EmitArtifact(html string) {
	s.EmitMessage(config.RenderArtifact(html))
}

// EmitToolCall forwards an assembled tool call to the client as a chunk.
func (s *Session) EmitToolCall(calls []openai.ToolCall) {
	chunk := s.mintChunk(openai.ChatCompletionStreamChoiceDelta{
		Role:      chat.RoleAssistant,
		ToolCalls: calls,
	}, openai.FinishReasonToolCalls)
	s.emit(serialize(chunk), false)
}

// emitListenerEvent sends a sideband envelope to listener queues only.
func (s *Session) emitListenerEvent(event string, data any) {
	payload := serialize(ListenerEvent{
		Object: "boost.listener.event",
		Event:  event,
		Data:   data,
	})
	s.emit(payload, true)
}

// EmitEvent publishes a named sideband event to attached listeners.
func (s *Session) EmitEvent(event string, data any) {
	s.emitListenerEvent(event, data)
}

// Done emits the terminator and closes the primary queue and every listener.
// The terminator bypasses the intermediate output gate.
func (s *Session) Done() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.streaming = false
	listeners := s.listeners
	s.listeners = nil

	terminator := []byte(Terminator)
	for _, l := range listeners {
		select {
		case l <- terminator:
		default:
			// Full queue: evict the oldest chunk so the terminator still lands.
			select {
			case <-l:
			default:
			}
			select {
			case l <- terminator:
			default:
			}
		}
		close(l)
	}
	s.mu.Unlock()

	// In-flight primary sends observed done=false; wait them out before
	// closing their channel.
	s.inflight.Wait()
	select {
	case s.primary <- terminator:
	case <-s.cancelled:
	}
	close(s.primary)
}

// Primary returns the queue whose drained contents form the client response.
func (s *Session) Primary() <-chan []byte {
	return s.primary
}

// Listen attaches a fresh listener queue. Listeners joined before the
// terminator receive it; joining after termination yields an already-closed
// queue. The returned detach func is safe to call at any time.
func (s *Session) Listen() (<-chan []byte, func()) {
	ch := make(chan []byte, primaryBuffer)

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()

	detach := func() {
		s.mu.Lock()
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				close(ch)
				break
			}
		}
		s.mu.Unlock()
	}
	return ch, detach
}

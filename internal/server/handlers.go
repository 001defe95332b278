package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/mapper"
	"github.com/harborai/boost/internal/modules"
	"github.com/harborai/boost/internal/session"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "ok",
		"service": "boost",
	}
	if s.cfg.PublicURL != "" {
		body["url"] = s.cfg.PublicURL
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleModels lists the cross-product of enabled modules and downstream
// models, optionally including the un-boosted backend models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	downstream, err := s.mapper.Downstream(r.Context())
	if err != nil {
		s.logger.Error("model listing failed", "error", err)
		writeError(w, http.StatusBadGateway, "model catalog unavailable")
		return
	}

	data := make([]mapper.Model, 0, len(downstream))
	if s.cfg.BaseModels {
		data = append(data, downstream...)
	}
	for _, m := range modules.Enabled(s.cfg) {
		for _, dm := range downstream {
			data = append(data, mapper.ProxyModel(m.Prefix, dm))
		}
	}
	data = s.mapper.FilterModels(data)

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func parseMessages(v any) ([]chat.Message, error) {
	if v == nil {
		return nil, fmt.Errorf("missing messages")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var messages []chat.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("empty messages")
	}
	return messages, nil
}

func moduleLabel(name string) string {
	if name == "" {
		return "passthrough"
	}
	return name
}

// handleChatCompletions is the main proxy endpoint. The request body is an
// open JSON object; everything that is not model/messages/stream is forwarded
// upstream, with reserved-prefix keys split off for the module.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	model, _ := body["model"].(string)
	if model == "" {
		writeError(w, http.StatusBadRequest, "missing model")
		return
	}

	rc, err := s.mapper.ResolveRequest(r.Context(), model)
	if err != nil {
		if mapper.IsUnknownModel(err) {
			writeError(w, http.StatusNotFound, "Unknown model: %s", model)
			return
		}
		s.logger.Error("request resolution failed", "model", model, "error", err)
		writeError(w, http.StatusBadGateway, "model catalog unavailable")
		return
	}

	messages, err := parseMessages(body["messages"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid messages: %v", err)
		return
	}
	streamRequested, _ := body["stream"].(bool)

	params := make(map[string]any, len(body))
	for k, v := range body {
		params[k] = v
	}
	delete(params, "model")
	delete(params, "messages")
	delete(params, "stream")

	sess := session.New(session.Options{
		URL:     rc.URL,
		Headers: rc.Headers,
		Model:   rc.Model,
		Params:  params,
		Module:  rc.Module,
		Config:  s.cfg,
		Logger:  s.logger,
		Client:  s.client,
	})
	conversation := chat.FromMessages(messages)
	sess.BindChat(conversation)

	sess.Logger().Info("chat completion",
		"model", model,
		"backend", rc.Backend,
		"stream", streamRequested,
	)

	// UI auxiliary prompts (titles, tags, autocomplete) skip the module and
	// answer with a single plain upstream call.
	if s.cfg.IsDirectTask(conversation.Text()) {
		completionsTotal.WithLabelValues(moduleLabel(rc.Module), "direct").Inc()
		resp, err := sess.ChatCompletion(r.Context(), session.CompletionOptions{Chat: conversation})
		if err != nil {
			sess.Logger().Error("direct task failed", "error", err)
			writeError(w, http.StatusBadGateway, "upstream error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var apply session.ApplyFunc
	if rc.Module != "" {
		if m, ok := modules.Lookup(rc.Module); ok {
			apply = m.Apply
		} else {
			sess.Logger().Warn("module not registered, passing through", "module", rc.Module)
		}
	}
	completionsTotal.WithLabelValues(moduleLabel(rc.Module), "serve").Inc()

	// The producer outlives a disconnecting client; it runs to completion
	// and the consumer side cancels its own reads.
	out := sess.Serve(context.WithoutCancel(r.Context()), s.store, apply)

	// Advertise the sideband listener endpoints for this session.
	w.Header().Set("X-Boost-Session", sess.ID)
	if s.cfg.PublicURL != "" {
		w.Header().Set("X-Boost-Events", s.cfg.PublicURL+"/events/"+sess.ID)
	}

	if streamRequested {
		s.streamResponse(w, r, sess, out)
		return
	}

	resp, err := session.ConsumeStream(r.Context(), out)
	if err != nil {
		sess.Cancel()
		writeError(w, http.StatusInternalServerError, "aggregate stream: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamResponse drains the primary queue into an SSE response. A client
// disconnect flips the session's cancel flag so the producer stops blocking.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, sess *session.Session, out <-chan []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			sess.Cancel()
			return
		case payload, ok := <-out:
			if !ok {
				return
			}
			if _, err := w.Write(payload); err != nil {
				sess.Cancel()
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

// handleEvents attaches an SSE listener to a running session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: %s", id)
		return
	}

	ch, detach := sess.Listen()
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventsWS attaches a bidirectional WebSocket listener: outbound
// frames are the session's serialized events, inbound frames are published
// on the session's event bus as websocket.message.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session: %s", id)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	ch, detach := sess.Listen()
	defer detach()

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var payload any
			if err := json.Unmarshal(raw, &payload); err != nil {
				payload = string(raw)
			}
			sess.Events.Emit("websocket.message", payload)
		}
	}()

	for {
		select {
		case <-readerGone:
			return
		case payload, open := <-ch:
			if !open {
				return
			}
			if bytes.Equal(payload, []byte(session.Terminator)) {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete")
				_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, trimSSEFraming(payload)); err != nil {
				return
			}
		}
	}
}

// trimSSEFraming strips the data: prefix and trailing newlines so WebSocket
// consumers receive bare JSON.
func trimSSEFraming(payload []byte) []byte {
	out := bytes.TrimPrefix(payload, []byte("data: "))
	return bytes.TrimRight(out, "\n")
}

// Package session implements the per-request serving engine: the upstream
// inference client, the emission pipeline feeding the client's response and
// any sideband listeners, and the process-wide registry late listeners use
// to find a running session.
package session

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/config"
	"github.com/harborai/boost/internal/tools"
)

// BoostParamPrefix is the reserved prefix of request parameters that are
// stripped from the upstream body and handed to modules instead.
const BoostParamPrefix = "@boost_"

// primaryBuffer is the capacity of the primary and listener queues.
const primaryBuffer = 256

// Options carries everything needed to construct a session.
type Options struct {
	// URL is the upstream base URL, e.g. http://ollama:11434/v1.
	URL string
	// Headers are sent with every upstream call (backend Authorization).
	Headers map[string]string
	// Query is appended to every upstream call.
	Query url.Values
	// Model is the backend model id.
	Model string
	// Params is the forwarded parameter map from the client request;
	// reserved-prefix keys are split off into BoostParams.
	Params map[string]any
	// Module is the resolved module name, empty for pass-through.
	Module string

	Config *config.Config
	Logger *slog.Logger
	Client *http.Client
}

// Session is the per-request state: upstream target, forwarded parameters,
// the conversation, the local tool registry, and the emission pipeline.
type Session struct {
	ID     string
	URL    string
	Model  string
	Module string

	Headers map[string]string
	Query   url.Values

	// Params is forwarded upstream with every call.
	Params map[string]any
	// BoostParams holds the stripped @boost_ parameters, without prefix.
	BoostParams map[string]any

	Chat  *chat.Chat
	Tools *tools.Registry

	// Events is the session's internal bus; WebSocket inbound traffic is
	// emitted here as "websocket.message".
	Events *Emitter

	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	mu          sync.Mutex
	primary     chan []byte
	listeners   []chan []byte
	streaming   bool
	finalStream bool
	done        bool
	chunkSeq    int

	// inflight counts primary sends started before done flipped; Done waits
	// for them so it never closes the queue under an emitter.
	inflight sync.WaitGroup

	// cancelled is closed when the response consumer goes away; emissions
	// stop blocking on the primary queue from then on.
	cancelled chan struct{}
	cancelOne sync.Once
}

// New creates a session with a fresh UUIDv4 id and splits the reserved
// boost parameters out of the forwarded map.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	params, boostParams := SplitBoostParams(opts.Params)

	s := &Session{
		ID:          uuid.NewString(),
		URL:         strings.TrimRight(opts.URL, "/"),
		Model:       opts.Model,
		Module:      opts.Module,
		Headers:     opts.Headers,
		Query:       opts.Query,
		Params:      params,
		BoostParams: boostParams,
		Tools:       tools.NewRegistry(),
		cfg:         opts.Config,
		client:      client,
		primary:     make(chan []byte, primaryBuffer),
		cancelled:   make(chan struct{}),
	}
	s.logger = logger.With("session_id", s.ID, "module", s.Module)
	s.Events = NewEmitter(s.logger)
	return s
}

// BindChat attaches the conversation and wires the chat helpers back to
// this session.
func (s *Session) BindChat(c *chat.Chat) {
	s.Chat = c
	c.Bind(s)
}

// Config returns the runtime configuration the session was built with.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Streaming reports whether the session has emitted its first chunk and has
// not terminated yet.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming && !s.done
}

// FinalStream reports whether the session entered its final upstream stream.
func (s *Session) FinalStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalStream
}

// SetFinalStream flips the final-stream flag; final chunks always pass the
// intermediate output gate.
func (s *Session) SetFinalStream(v bool) {
	s.mu.Lock()
	s.finalStream = v
	s.mu.Unlock()
}

// Cancel marks the response consumer as gone. The producer keeps running,
// but primary emissions are discarded from now on.
func (s *Session) Cancel() {
	s.cancelOne.Do(func() { close(s.cancelled) })
}

// Param reads a boost parameter with a fallback.
func (s *Session) Param(name string, fallback any) any {
	if v, ok := s.BoostParams[name]; ok {
		return v
	}
	return fallback
}

// SplitBoostParams separates reserved-prefix keys from the forwarded map.
// The returned boost map is keyed without the prefix.
func SplitBoostParams(params map[string]any) (forwarded, boost map[string]any) {
	forwarded = map[string]any{}
	boost = map[string]any{}
	for key, value := range params {
		if strings.HasPrefix(key, BoostParamPrefix) {
			boost[strings.TrimPrefix(key, BoostParamPrefix)] = value
			continue
		}
		forwarded[key] = value
	}
	return forwarded, boost
}

func nowUnix() int64 {
	return time.Now().Unix()
}

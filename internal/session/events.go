package session

import (
	"log/slog"
	"sort"
	"sync"
)

// Handler receives an event payload. Handlers run on the emitting goroutine;
// a panic is recovered and logged so a listener can never kill the producer.
type Handler func(data any)

type handlerEntry struct {
	fn   Handler
	once bool
}

// Emitter is a small in-process event bus. Each session owns one; modules
// subscribe to it to react to sideband traffic such as inbound WebSocket
// messages.
type Emitter struct {
	mu       sync.Mutex
	seq      int
	handlers map[string]map[int]handlerEntry
	logger   *slog.Logger
}

// NewEmitter creates an empty bus.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		handlers: map[string]map[int]handlerEntry{},
		logger:   logger,
	}
}

// On subscribes to an event and returns an unsubscribe func.
func (e *Emitter) On(event string, fn Handler) func() {
	return e.subscribe(event, fn, false)
}

// Once subscribes for a single delivery.
func (e *Emitter) Once(event string, fn Handler) func() {
	return e.subscribe(event, fn, true)
}

func (e *Emitter) subscribe(event string, fn Handler, once bool) func() {
	e.mu.Lock()
	e.seq++
	id := e.seq
	if e.handlers[event] == nil {
		e.handlers[event] = map[int]handlerEntry{}
	}
	e.handlers[event][id] = handlerEntry{fn: fn, once: once}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers[event], id)
		e.mu.Unlock()
	}
}

// RemoveAll drops every handler, or the handlers of one event when named.
func (e *Emitter) RemoveAll(event string) {
	e.mu.Lock()
	if event == "" {
		e.handlers = map[string]map[int]handlerEntry{}
	} else {
		delete(e.handlers, event)
	}
	e.mu.Unlock()
}

// Emit delivers the payload to every subscriber in subscription order.
// Once-handlers are removed before delivery.
func (e *Emitter) Emit(event string, data any) {
	e.mu.Lock()
	entries := e.handlers[event]
	ids := make([]int, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		entry := entries[id]
		fns = append(fns, entry.fn)
		if entry.once {
			delete(entries, id)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		e.call(event, fn, data)
	}
}

func (e *Emitter) call(event string, fn Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	fn(data)
}

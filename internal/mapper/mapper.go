// Package mapper maintains the model catalog: it aggregates the downstream
// /v1/models listings, builds the synthetic ids the proxy advertises, and
// resolves an incoming model id back to a module and a concrete backend.
package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harborai/boost/internal/chat"
	"github.com/harborai/boost/internal/config"
)

// cacheTTL bounds how long a downstream listing is reused.
const cacheTTL = 60 * time.Second

// ErrUnknownModel marks a model id no configured backend serves.
var ErrUnknownModel = errors.New("unknown model")

// IsUnknownModel tells whether an error chain carries ErrUnknownModel.
func IsUnknownModel(err error) bool {
	return errors.Is(err, ErrUnknownModel)
}

// Model is one catalog entry, OpenAI model-object shaped. Name is a boost
// extension carried on synthetic entries.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Name    string `json:"name,omitempty"`
}

// RequestConfig is the resolved upstream target of one chat request.
type RequestConfig struct {
	// URL is the backend base URL.
	URL string
	// Headers carry the backend Authorization, when configured.
	Headers map[string]string
	// Model is the backend model id, with any module prefix stripped.
	Model string
	// Module is the resolved module name; empty means pass-through.
	Module string
	// Backend is the configured backend name, for logging.
	Backend string
}

// Mapper caches the downstream catalog and translates synthetic ids.
// Reads are frequent (every request refreshes through the memo), so the
// listing is fetched at most once per TTL and dropped on enumeration errors
// rather than served stale.
type Mapper struct {
	backends []config.Backend
	filter   map[string]string

	// prefixes maps module id-prefix to module name, fixed at startup.
	prefixes map[string]string

	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	models  []Model
	routes  map[string]config.Backend
	fetched time.Time
}

// New builds a mapper over the configured backends. prefixes maps each
// module's id-prefix to its name.
func New(cfg *config.Config, prefixes map[string]string, logger *slog.Logger, client *http.Client) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if prefixes == nil {
		prefixes = map[string]string{}
	}
	return &Mapper{
		backends: cfg.Backends,
		filter:   cfg.ModelFilter,
		prefixes: prefixes,
		client:   client,
		logger:   logger,
		routes:   map[string]config.Backend{},
	}
}

// Downstream returns the aggregated backend catalog, memoized for the TTL.
// A listing where any backend failed is returned best-effort but never
// memoized, so the next call retries instead of pinning a stale view.
func (m *Mapper) Downstream(ctx context.Context) ([]Model, error) {
	m.mu.Lock()
	if time.Since(m.fetched) < cacheTTL && m.models != nil {
		models := m.models
		m.mu.Unlock()
		return models, nil
	}
	m.mu.Unlock()

	models, routes, complete, err := m.listOnce(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.models = models
	m.routes = routes
	if complete {
		m.fetched = time.Now()
	} else {
		// Partial view stays usable but the memo is left cold so the
		// next call retries the failed backends.
		m.fetched = time.Time{}
	}
	m.mu.Unlock()
	return models, nil
}

// listOnce queries every backend. All backends failing is an error; a
// partial failure logs and keeps going, but the result is not memoizable.
func (m *Mapper) listOnce(ctx context.Context) ([]Model, map[string]config.Backend, bool, error) {
	var models []Model
	routes := map[string]config.Backend{}
	failed := 0

	for _, backend := range m.backends {
		listed, err := m.listBackend(ctx, backend)
		if err != nil {
			m.logger.Warn("backend model listing failed",
				"backend", backend.Name, "url", backend.URL, "error", err)
			failed++
			continue
		}
		for _, model := range listed {
			// First backend serving an id wins.
			if _, taken := routes[model.ID]; taken {
				continue
			}
			routes[model.ID] = backend
			models = append(models, model)
		}
	}

	if failed == len(m.backends) {
		return nil, nil, false, fmt.Errorf("all %d backends failed to list models", len(m.backends))
	}
	return models, routes, failed == 0, nil
}

func (m *Mapper) listBackend(ctx context.Context, backend config.Backend) ([]Model, error) {
	endpoint := strings.TrimRight(backend.URL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if backend.Key != "" {
		req.Header.Set("Authorization", "Bearer "+backend.Key)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var listing struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return listing.Data, nil
}

// ProxyModel constructs the synthetic catalog entry of a module over a
// backend model.
func ProxyModel(prefix string, model Model) Model {
	return Model{
		ID:      prefix + "-" + model.ID,
		Object:  "model",
		Created: model.Created,
		OwnedBy: "boost",
		Name:    prefix + " " + model.ID,
	}
}

// Resolve parses a client-visible model id. When the token before the first
// hyphen names a known module prefix, the remainder is the backend id;
// otherwise the id passes through untouched with no module.
func (m *Mapper) Resolve(id string) (module, backendID string) {
	head, rest, ok := strings.Cut(id, "-")
	if ok {
		if name, known := m.prefixes[head]; known {
			return name, rest
		}
	}
	return "", id
}

// ResolveRequest maps a model id to its upstream target. The catalog memo is
// refreshed through Downstream first so a freshly appeared backend model
// resolves without a restart.
func (m *Mapper) ResolveRequest(ctx context.Context, id string) (*RequestConfig, error) {
	module, backendID := m.Resolve(id)

	if _, err := m.Downstream(ctx); err != nil {
		return nil, fmt.Errorf("refresh model catalog: %w", err)
	}

	m.mu.Lock()
	backend, ok := m.routes[backendID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	rc := &RequestConfig{
		URL:     strings.TrimRight(backend.URL, "/"),
		Model:   backendID,
		Module:  module,
		Backend: backend.Name,
	}
	if backend.Key != "" {
		rc.Headers = map[string]string{"Authorization": "Bearer " + backend.Key}
	}
	return rc, nil
}

// FilterModels applies the configured field[.op]=value catalog filter.
func (m *Mapper) FilterModels(models []Model) []Model {
	if len(m.filter) == 0 {
		return models
	}
	out := make([]Model, 0, len(models))
	for _, model := range models {
		fields := map[string]any{
			"id":       model.ID,
			"object":   model.Object,
			"owned_by": model.OwnedBy,
			"name":     model.Name,
		}
		if chat.MatchesFilter(fields, m.filter) {
			out = append(out, model)
		}
	}
	return out
}

// Package config loads the boost configuration.
//
// Everything is environment-driven under the HARBOR_BOOST_ prefix, matching
// the deployment contract of the service. An optional YAML file can seed
// values; environment variables always win.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/harborai/boost/internal/chat"
)

// EnvPrefix is the shared prefix of every boost environment variable.
const EnvPrefix = "HARBOR_BOOST_"

// Backend is a single upstream OpenAI-compatible API.
type Backend struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Key  string `yaml:"key"`
}

// ModuleSelection holds a selection strategy plus its params, the unit of
// per-module message targeting.
type ModuleSelection struct {
	Strategy chat.Strategy
	Params   chat.StrategyParams
}

// Config is the full runtime configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicURL is the externally reachable base URL, advertised to
	// artifacts that need to connect back for listener events.
	PublicURL string `yaml:"public_url"`

	Backends []Backend `yaml:"backends"`

	// Modules advertised by /v1/models; ["all"] enables every registered one.
	Modules []string `yaml:"modules"`

	// IntermediateOutput gates non-final chunks on the primary stream.
	IntermediateOutput bool `yaml:"intermediate_output"`

	StatusStyle StatusStyle `yaml:"status_style"`

	// ExtraLLMParams is merged into every upstream request body.
	ExtraLLMParams map[string]any `yaml:"extra_llm_params"`

	// ModelFilter is a server-side catalog filter, field[.op]=value form.
	ModelFilter map[string]string `yaml:"model_filter"`

	// APIKeys is the accepted bearer token set; empty disables auth.
	APIKeys []string `yaml:"api_keys"`

	// BaseModels also advertises un-boosted backend models.
	BaseModels bool `yaml:"base_models"`

	// DirectTasks are substrings identifying UI auxiliary prompts that
	// bypass module logic.
	DirectTasks []string `yaml:"direct_tasks"`

	Klmbr KlmbrConfig `yaml:"klmbr"`
	G1    G1Config    `yaml:"g1"`
	R0    R0Config    `yaml:"r0"`
	Eli5  ModuleConfig `yaml:"eli5"`
	Rcn   ModuleConfig `yaml:"rcn"`
}

// ModuleConfig is the common shape of a per-module configuration group.
type ModuleConfig struct {
	Strat       string `yaml:"strat"`
	StratParams string `yaml:"strat_params"`
}

// Selection parses the configured strategy and params.
func (m ModuleConfig) Selection() ModuleSelection {
	return parseSelection(m.Strat, m.StratParams)
}

// KlmbrConfig configures the klmbr input rewriter.
type KlmbrConfig struct {
	ModuleConfig `yaml:",inline"`
	Percentage   float64  `yaml:"percentage"`
	Mods         []string `yaml:"mods"`
}

// G1Config configures the g1 chain-of-thought loop.
type G1Config struct {
	ModuleConfig `yaml:",inline"`
	MaxSteps     int `yaml:"max_steps"`
}

// R0Config configures the r0 synthetic reasoning module.
type R0Config struct {
	Thoughts int `yaml:"thoughts"`
}

// DefaultDirectTasks are the known UI auxiliary prompt fragments. They are
// literal substrings of the prompts certain chat UIs issue for titles, tags,
// autocompletion and search gating, plus an explicit test marker.
var DefaultDirectTasks = []string{
	"3-5 word title",
	"Generate 1-3 broad tags",
	"autocomplete",
	"generating search queries",
	"### Task",
	"DIRECT_TASK_MARKER",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               8000,
		Modules:            []string{"all"},
		IntermediateOutput: true,
		StatusStyle:        StatusCodeBlock,
		DirectTasks:        append([]string(nil), DefaultDirectTasks...),
		Klmbr: KlmbrConfig{
			ModuleConfig: ModuleConfig{Strat: "match", StratParams: "role=user"},
			Percentage:   35,
			Mods:         []string{"all"},
		},
		G1: G1Config{
			ModuleConfig: ModuleConfig{Strat: "match", StratParams: "role=user,index=-1"},
			MaxSteps:     15,
		},
		R0:   R0Config{Thoughts: 5},
		Eli5: ModuleConfig{Strat: "match", StratParams: "role=user,index=-1"},
		Rcn:  ModuleConfig{Strat: "match", StratParams: "role=user,index=-1"},
	}
}

// Load builds the configuration from the process environment, optionally
// seeded from a YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints that would otherwise fail at request time.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("no upstream backends configured, set %sOPENAI_URLS", EnvPrefix)
	}
	for i, b := range c.Backends {
		if strings.TrimSpace(b.URL) == "" {
			return fmt.Errorf("backend %d has an empty url", i)
		}
	}
	if !c.StatusStyle.Valid() {
		return fmt.Errorf("unknown status style %q", c.StatusStyle)
	}
	return nil
}

// AuthEnabled reports whether bearer auth is active.
func (c *Config) AuthEnabled() bool {
	return len(c.APIKeys) > 0
}

// ModuleEnabled tells whether a module name is advertised.
func (c *Config) ModuleEnabled(name string) bool {
	for _, m := range c.Modules {
		if m == "all" || m == name {
			return true
		}
	}
	return false
}

// IsDirectTask matches the chat text against the configured task fragments.
func (c *Config) IsDirectTask(text string) bool {
	for _, fragment := range c.DirectTasks {
		if fragment != "" && strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

func parseSelection(strat, params string) ModuleSelection {
	sel := ModuleSelection{Strategy: chat.Strategy(strat)}
	if sel.Strategy == "" {
		sel.Strategy = chat.StrategyMatch
	}
	for _, pair := range splitList(params, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "role":
			sel.Params.Filter.Role = value
		case "substring":
			sel.Params.Filter.Substring = value
		case "index":
			if n, err := parseInt(value); err == nil {
				sel.Params.Filter.Index = &n
			}
		case "percentage":
			if f, err := parseFloat(value); err == nil {
				sel.Params.Percentage = f
			}
		}
	}
	return sel
}

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

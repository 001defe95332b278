package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// loadEnv applies HARBOR_BOOST_* environment variables over the config.
func (c *Config) loadEnv() {
	if v, ok := lookupEnv("HOST"); ok {
		c.Host = v
	}
	if v, ok := lookupEnv("PORT"); ok {
		if n, err := parseInt(v); err == nil {
			c.Port = n
		}
	}
	if v, ok := lookupEnv("PUBLIC_URL"); ok {
		c.PublicURL = strings.TrimRight(v, "/")
	}

	c.loadBackendsEnv()

	if v, ok := lookupEnv("MODULES"); ok {
		c.Modules = splitList(v, ";")
		if len(c.Modules) == 0 {
			c.Modules = []string{"all"}
		}
	}
	if v, ok := lookupEnv("INTERMEDIATE_OUTPUT"); ok {
		c.IntermediateOutput = parseBool(v)
	}
	if v, ok := lookupEnv("STATUS_STYLE"); ok {
		c.StatusStyle = StatusStyle(v)
	}
	if v, ok := lookupEnv("EXTRA_LLM_PARAMS"); ok {
		c.ExtraLLMParams = parseParamMap(v)
	}
	if v, ok := lookupEnv("MODEL_FILTER"); ok {
		c.ModelFilter = parseFilterMap(v)
	}
	c.loadAPIKeysEnv()
	if v, ok := lookupEnv("BASE_MODELS"); ok {
		c.BaseModels = parseBool(v)
	}
	if v, ok := lookupEnv("DIRECT_TASKS"); ok {
		c.DirectTasks = splitList(v, ";")
	}

	c.loadModulesEnv()
}

// loadBackendsEnv reads the index-aligned OPENAI_URLS/OPENAI_KEYS pair plus
// any named OPENAI_URL_<NAME>/OPENAI_KEY_<NAME> backends.
func (c *Config) loadBackendsEnv() {
	urls, urlsSet := lookupEnv("OPENAI_URLS")
	keys, _ := lookupEnv("OPENAI_KEYS")
	if urlsSet {
		urlList := splitList(urls, ";")
		keyList := splitList(keys, ";")
		backends := make([]Backend, 0, len(urlList))
		for i, u := range urlList {
			b := Backend{Name: "openai", URL: strings.TrimRight(u, "/")}
			if i > 0 {
				b.Name = "openai" + strconv.Itoa(i)
			}
			if i < len(keyList) {
				b.Key = keyList[i]
			}
			backends = append(backends, b)
		}
		c.Backends = backends
	}

	named := map[string]*Backend{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		name = strings.TrimPrefix(name, EnvPrefix)
		switch {
		case strings.HasPrefix(name, "OPENAI_URL_"):
			id := strings.ToLower(strings.TrimPrefix(name, "OPENAI_URL_"))
			backend := named[id]
			if backend == nil {
				backend = &Backend{Name: id}
				named[id] = backend
			}
			backend.URL = strings.TrimRight(value, "/")
		case strings.HasPrefix(name, "OPENAI_KEY_"):
			id := strings.ToLower(strings.TrimPrefix(name, "OPENAI_KEY_"))
			backend := named[id]
			if backend == nil {
				backend = &Backend{Name: id}
				named[id] = backend
			}
			backend.Key = value
		}
	}
	ids := make([]string, 0, len(named))
	for id, b := range named {
		if b.URL != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.Backends = append(c.Backends, *named[id])
	}
}

// loadAPIKeysEnv merges API_KEY, API_KEYS and API_KEY_<NAME> into one set.
func (c *Config) loadAPIKeysEnv() {
	var keys []string
	if v, ok := lookupEnv("API_KEY"); ok && v != "" {
		keys = append(keys, v)
	}
	if v, ok := lookupEnv("API_KEYS"); ok {
		keys = append(keys, splitList(v, ";")...)
	}
	var named []string
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix+"API_KEY_") {
			continue
		}
		if value != "" {
			named = append(named, value)
		}
	}
	sort.Strings(named)
	keys = append(keys, named...)
	if len(keys) > 0 {
		c.APIKeys = keys
	}
}

func (c *Config) loadModulesEnv() {
	if v, ok := lookupEnv("KLMBR_PERCENTAGE"); ok {
		if f, err := parseFloat(v); err == nil {
			c.Klmbr.Percentage = f
		}
	}
	if v, ok := lookupEnv("KLMBR_MODS"); ok {
		c.Klmbr.Mods = splitList(v, ";")
	}
	if v, ok := lookupEnv("KLMBR_STRAT"); ok {
		c.Klmbr.Strat = v
	}
	if v, ok := lookupEnv("KLMBR_STRAT_PARAMS"); ok {
		c.Klmbr.StratParams = v
	}
	if v, ok := lookupEnv("G1_STRAT"); ok {
		c.G1.Strat = v
	}
	if v, ok := lookupEnv("G1_STRAT_PARAMS"); ok {
		c.G1.StratParams = v
	}
	if v, ok := lookupEnv("G1_MAX_STEPS"); ok {
		if n, err := parseInt(v); err == nil && n > 0 {
			c.G1.MaxSteps = n
		}
	}
	if v, ok := lookupEnv("R0_THOUGHTS"); ok {
		if n, err := parseInt(v); err == nil && n >= 0 {
			c.R0.Thoughts = n
		}
	}
	if v, ok := lookupEnv("ELI5_STRAT"); ok {
		c.Eli5.Strat = v
	}
	if v, ok := lookupEnv("ELI5_STRAT_PARAMS"); ok {
		c.Eli5.StratParams = v
	}
	if v, ok := lookupEnv("RCN_STRAT"); ok {
		c.Rcn.Strat = v
	}
	if v, ok := lookupEnv("RCN_STRAT_PARAMS"); ok {
		c.Rcn.StratParams = v
	}
}

func splitList(v, sep string) []string {
	var out []string
	for _, item := range strings.Split(v, sep) {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseInt(v string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(v))
}

func parseFloat(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

// parseParamMap parses "k=v,k2=v2" into a typed map: booleans and numbers
// are detected, everything else stays a string.
func parseParamMap(v string) map[string]any {
	out := map[string]any{}
	for _, pair := range splitList(v, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case value == "true" || value == "false":
			out[key] = value == "true"
		default:
			if n, err := strconv.Atoi(value); err == nil {
				out[key] = n
			} else if f, err := strconv.ParseFloat(value, 64); err == nil {
				out[key] = f
			} else {
				out[key] = value
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseFilterMap parses "field.op=value,..." into the catalog filter form.
func parseFilterMap(v string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitList(v, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Package modules holds the module registry and the built-in boost modules.
//
// A module rewrites or orchestrates the conversation before the final
// completion streams back to the client. Modules are compiled in and register
// themselves in a package-level table at init time; the configured module
// list selects which of them the catalog advertises.
package modules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harborai/boost/internal/config"
	"github.com/harborai/boost/internal/session"
)

// Module is one registered boost workflow.
type Module struct {
	// Name is the lookup key, also used as the synthetic id prefix.
	Name string
	// Prefix builds synthetic model ids; defaults to Name.
	Prefix string
	// Doc is the markdown documentation rendered by the modules command.
	Doc string
	// Apply runs the workflow against a live session.
	Apply session.ApplyFunc
}

var (
	mu       sync.RWMutex
	registry = map[string]Module{}
)

// Register adds a module to the table. Duplicate names are a programmer
// error; registration happens from init funcs only.
func Register(m Module) {
	if m.Name == "" || m.Apply == nil {
		panic("modules: register needs a name and an apply func")
	}
	if m.Prefix == "" {
		m.Prefix = m.Name
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[m.Name]; exists {
		panic(fmt.Sprintf("modules: %q registered twice", m.Name))
	}
	registry[m.Name] = m
}

// Lookup resolves a module by name.
func Lookup(name string) (Module, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := registry[name]
	return m, ok
}

// All returns every registered module, name-ordered.
func All() []Module {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Module, 0, len(names))
	for _, name := range names {
		out = append(out, registry[name])
	}
	return out
}

// Prefixes maps every registered id prefix to its module name, the table the
// mapper parses synthetic ids with.
func Prefixes() map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]string, len(registry))
	for name, m := range registry {
		out[m.Prefix] = name
	}
	return out
}

// Enabled returns the modules the configuration advertises, name-ordered.
func Enabled(cfg *config.Config) []Module {
	out := make([]Module, 0)
	for _, m := range All() {
		if cfg.ModuleEnabled(m.Name) {
			out = append(out, m)
		}
	}
	return out
}

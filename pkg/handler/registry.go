package handler

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"
)

// Registry maps runtime families to their definitions. New runtimes are
// added by registering a Definition.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// NewDefaultRegistry registers the built in runtimes. shimsDir holds the
// bootstrap scripts for interpreted runtimes.
func NewDefaultRegistry(shimsDir string) *Registry {
	r := NewRegistry()
	r.Register("nodejs", NodeHandler(shimsDir))
	r.Register("python", PythonHandler(shimsDir, os.Getenv))
	r.Register("go", GoHandler())
	return r
}

func (r *Registry) Register(family string, def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[family] = def
}

// Resolve returns the definition for a runtime such as "python3.9".
func (r *Registry) Resolve(runtime string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[Family(runtime)]
	if !ok {
		return nil, fmt.Errorf("unsupported runtime %q", runtime)
	}
	return def, nil
}

// Family strips the version suffix from a runtime name.
func Family(runtime string) string {
	i := strings.IndexFunc(runtime, func(r rune) bool {
		return unicode.IsDigit(r) || r == '.'
	})
	if i < 0 {
		return runtime
	}
	return runtime[:i]
}

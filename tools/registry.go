package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/richinex/gamemaster/llm"
)

// Registry maps tool names to handlers. Every handler is validated on
// registration so a registry is always well-formed.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Handler
}

// NewRegistry creates a registry holding the given handlers.
// Returns an error wrapping ErrInvalidRegistry on the first invalid or
// duplicate handler.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{tools: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tool sets; it panics on error.
func MustRegistry(handlers ...Handler) *Registry {
	r, err := NewRegistry(handlers...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a handler to the registry.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidRegistry)
	}
	spec := h.Spec()
	if err := validateSpec(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("%w: tool '%s' already registered", ErrInvalidRegistry, spec.Name)
	}
	r.tools[spec.Name] = h
	return nil
}

func validateSpec(spec Spec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: tool without a name", ErrInvalidRegistry)
	}
	seen := make(map[string]bool, len(spec.Parameters))
	var errs []error
	for _, p := range spec.Parameters {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("unnamed parameter"))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("duplicate parameter %q", p.Name))
		case !knownTypes[p.Type]:
			errs = append(errs, fmt.Errorf("parameter %q has unknown type %q", p.Name, p.Type))
		case p.Items != "" && (p.Type != TypeArray || !knownTypes[p.Items]):
			errs = append(errs, fmt.Errorf("parameter %q has invalid items type %q", p.Name, p.Items))
		}
		seen[p.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: tool '%s': %w", ErrInvalidRegistry, spec.Name, errors.Join(errs...))
	}
	return nil
}

// Get returns a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.tools[name]
	return h, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns every tool spec, sorted by name.
func (r *Registry) Specs() []Spec {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		if h, ok := r.tools[name]; ok {
			specs = append(specs, h.Spec())
		}
	}
	return specs
}

// Definitions returns the model-facing declarations, sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	specs := r.Specs()
	defs := make([]llm.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = s.Definition()
	}
	return defs
}

// Description returns a formatted description of all tools for prompts and
// the CLI listing.
func (r *Registry) Description() string {
	var descriptions []string
	for _, spec := range r.Specs() {
		var params []string
		for _, p := range spec.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.Type, p.Description, required))
		}

		var flags []string
		if spec.NeedsScopeID {
			flags = append(flags, "scoped")
		}
		if spec.NeedsStore {
			flags = append(flags, "store")
		}
		if spec.Terminal {
			flags = append(flags, "terminal")
		}
		header := fmt.Sprintf("Tool: %s", spec.Name)
		if len(flags) > 0 {
			header += " [" + strings.Join(flags, ", ") + "]"
		}

		descriptions = append(descriptions, fmt.Sprintf(
			"%s\nDescription: %s\nParameters:\n%s",
			header, spec.Description, strings.Join(params, "\n")))
	}

	return strings.Join(descriptions, "\n\n")
}

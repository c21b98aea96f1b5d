// Loop builder for fluent configuration.
//
// Information Hiding:
// - Registry and executor assembly hidden
// - Default value application hidden

package agent

import (
	"fmt"
	"log/slog"

	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/storage"
	"github.com/richinex/gamemaster/tools"
)

// Builder provides fluent configuration for creating loops.
// Usage: agent.NewBuilder(provider).Tools(...).Build().
type Builder struct {
	provider llm.Provider
	config   Config
	handlers []tools.Handler
	registry *tools.Registry
	store    storage.WorldStore
	logger   *slog.Logger
}

// NewBuilder creates a new loop builder for the given provider.
func NewBuilder(provider llm.Provider) *Builder {
	return &Builder{provider: provider, config: DefaultConfig()}
}

// Name sets the loop's log label.
func (b *Builder) Name(name string) *Builder {
	b.config.Name = name
	return b
}

// SystemInstruction sets the default system instruction.
func (b *Builder) SystemInstruction(instruction string) *Builder {
	b.config.SystemInstruction = instruction
	return b
}

// MaxIterations sets the round cap. Values of zero or less keep the default.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// Tool adds a tool to the loop.
func (b *Builder) Tool(h tools.Handler) *Builder {
	b.handlers = append(b.handlers, h)
	return b
}

// Tools adds multiple tools at once.
func (b *Builder) Tools(handlers ...tools.Handler) *Builder {
	b.handlers = append(b.handlers, handlers...)
	return b
}

// Registry uses an existing registry instead of building one. It cannot be
// combined with Tool or Tools.
func (b *Builder) Registry(r *tools.Registry) *Builder {
	b.registry = r
	return b
}

// Store binds the world store injected into NeedsStore tools.
func (b *Builder) Store(s storage.WorldStore) *Builder {
	b.store = s
	return b
}

// Logger sets the structured logger shared by the loop and its executor.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the tool set and creates the loop.
func (b *Builder) Build() (*Loop, error) {
	if b.provider == nil {
		return nil, fmt.Errorf("loop %q: no provider", b.config.Name)
	}
	registry := b.registry
	switch {
	case registry != nil && len(b.handlers) > 0:
		return nil, fmt.Errorf("loop %q: both a registry and individual tools were given", b.config.Name)
	case registry == nil:
		var err error
		registry, err = tools.NewRegistry(b.handlers...)
		if err != nil {
			return nil, fmt.Errorf("loop %q: %w", b.config.Name, err)
		}
	}
	for _, spec := range registry.Specs() {
		if spec.NeedsStore && b.store == nil {
			return nil, fmt.Errorf("loop %q: tool %q needs a store but none is bound", b.config.Name, spec.Name)
		}
	}
	executor := tools.NewExecutor(registry, b.store, b.logger)
	return New(b.config, b.provider, executor, b.logger), nil
}

// Tool Executor.
//
// Information Hiding:
// - Argument decoding and validation hidden
// - Scope and store injection driven by the handler's Spec
// - Panic recovery and transaction scoping hidden

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	ijson "github.com/richinex/gamemaster/internal/json"
	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/storage"
)

var (
	errNoScope = errors.New("tool requires an active scope but none is bound")
	errNoStore = errors.New("tool requires a world store but none is bound")
)

// Executor runs model-requested tool calls against a registry. Every
// failure is converted into a Result; Execute never returns an error.
type Executor struct {
	registry *Registry
	store    storage.WorldStore
	logger   *slog.Logger
}

// NewExecutor creates an executor. store may be nil when no registered
// tool declares NeedsStore. A nil logger discards output.
func NewExecutor(registry *Registry, store storage.WorldStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{registry: registry, store: store, logger: logger}
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute dispatches one tool call. Handlers that declare NeedsStore run
// inside a single store transaction: a handler error or panic rolls back
// every write it made.
func (e *Executor) Execute(ctx context.Context, tc llm.ToolCall, scopeID string) Result {
	res := Result{CallID: tc.ID, Name: tc.Name}

	h, ok := e.registry.Get(tc.Name)
	if !ok {
		res.Err = fmt.Errorf("%w: %q", ErrToolNotFound, tc.Name)
		e.logger.Warn("unknown tool requested", "tool", tc.Name, "call_id", tc.ID)
		return res
	}
	spec := h.Spec()
	res.Terminal = spec.Terminal

	start := time.Now()
	res.Value, res.Err = e.run(ctx, h, spec, tc, scopeID)
	if res.Err != nil {
		res.Err = &ExecutionError{Tool: spec.Name, Err: res.Err}
		e.logger.Warn("tool failed", "tool", spec.Name, "call_id", tc.ID,
			"duration", time.Since(start), "error", res.Err)
	} else {
		e.logger.Debug("tool succeeded", "tool", spec.Name, "call_id", tc.ID,
			"duration", time.Since(start))
	}
	return res
}

func (e *Executor) run(ctx context.Context, h Handler, spec Spec, tc llm.ToolCall, scopeID string) (any, error) {
	args, err := ijson.DecodeArgs(tc.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := ValidateArgs(spec.Metadata, args); err != nil {
		return nil, err
	}

	call := Call{ID: tc.ID, Args: args}
	if spec.NeedsScopeID {
		if scopeID == "" {
			return nil, errNoScope
		}
		call.ScopeID = scopeID
	}

	if !spec.NeedsStore {
		return invoke(ctx, h, call)
	}
	if e.store == nil {
		return nil, errNoStore
	}

	var value any
	// The transaction must settle as a unit even if ctx is cancelled while
	// the handler runs.
	err = e.store.WithTx(context.WithoutCancel(ctx), func(tx storage.WorldTx) error {
		call.Store = tx
		v, err := invoke(ctx, h, call)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// invoke calls the handler, converting a panic into an error.
func invoke(ctx context.Context, h Handler, call Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Execute(ctx, call)
}

// Package tools provides the tool system for the narrator loop.
//
// Information Hiding:
// - Handler execution details hidden behind interface
// - Injection of scope ID and store handle driven by declared Spec flags
// - Registry validation and lookup hidden from consumers
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/storage"
)

var (
	// ErrToolNotFound is reported when the model names a tool that is not
	// registered. It becomes a tool result, not a loop failure.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecution classifies failures raised while a handler ran.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrInvalidArguments is returned when model arguments do not match the
	// declared parameters.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrInvalidRegistry is returned when a registry fails validation.
	ErrInvalidRegistry = errors.New("invalid tool registry")
)

// ExecutionError wraps a handler failure with the tool that raised it.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrToolExecution for any ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrToolExecution
}

// Parameter types accepted in tool schemas.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

var knownTypes = map[string]bool{
	TypeString: true, TypeInteger: true, TypeNumber: true,
	TypeBoolean: true, TypeArray: true, TypeObject: true,
}

// Parameter defines a parameter schema for a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	// Items is the element type for array parameters.
	Items string `json:"items,omitempty"`
}

// Metadata describes what a tool does and how to call it.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// String returns a string representation of the tool metadata.
func (m Metadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// Schema renders the parameters as a JSON Schema object.
func (m Metadata) Schema() map[string]any {
	properties := make(map[string]any, len(m.Parameters))
	required := []string{}
	for _, p := range m.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": items}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       TypeObject,
		"properties": properties,
		"required":   required,
	}
}

// Definition converts the metadata into the provider-neutral declaration.
func (m Metadata) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        m.Name,
		Description: m.Description,
		Parameters:  m.Schema(),
	}
}

// Spec is the full declaration of a tool: what the model sees plus what the
// loop must inject and how it must treat success.
type Spec struct {
	Metadata

	// NeedsScopeID injects the active scope (campaign) ID into the call.
	NeedsScopeID bool
	// NeedsStore runs the handler inside a store transaction.
	NeedsStore bool
	// Terminal ends the loop on success, returning the handler's value.
	Terminal bool
}

// Call carries model arguments plus injected context. Injected fields are
// kept apart from Args so a model cannot spoof them.
type Call struct {
	ID      string
	Args    map[string]any
	ScopeID string
	Store   storage.WorldTx
}

// Bind decodes the model arguments into dst.
func (c Call) Bind(dst any) error {
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Handler is the interface all tools implement.
type Handler interface {
	// Spec returns the tool declaration.
	Spec() Spec

	// Execute runs the tool. The returned value is serialized back to the
	// model, or returned verbatim when the tool is terminal.
	Execute(ctx context.Context, call Call) (any, error)
}

// Func adapts a plain function into a Handler.
type Func struct {
	spec Spec
	fn   func(ctx context.Context, call Call) (any, error)
}

// NewFunc creates a Handler from a spec and function.
func NewFunc(spec Spec, fn func(ctx context.Context, call Call) (any, error)) *Func {
	return &Func{spec: spec, fn: fn}
}

func (f *Func) Spec() Spec { return f.spec }

func (f *Func) Execute(ctx context.Context, call Call) (any, error) {
	return f.fn(ctx, call)
}

// Result represents the outcome of one tool call.
// Success is determined by whether Err is nil.
type Result struct {
	CallID   string
	Name     string
	Value    any
	Err      error
	Terminal bool
}

// Success returns true if the tool execution succeeded.
func (r Result) Success() bool {
	return r.Err == nil
}

// MarshalJSON renders the result the way the model sees it.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Tool    string `json:"tool"`
			Error   string `json:"error"`
		}{false, r.Name, r.Err.Error()})
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Tool    string `json:"tool"`
		Output  any    `json:"output"`
	}{true, r.Name, r.Value})
}

// Text is the serialized result fed back to the model.
func (r Result) Text() string {
	b, err := json.Marshal(r)
	if err != nil {
		// Value was not serializable; report that instead.
		b, _ = json.Marshal(Result{CallID: r.CallID, Name: r.Name, Err: fmt.Errorf("unserializable result: %w", err)})
	}
	return string(b)
}

// Message converts the result into a tool message for the history.
func (r Result) Message() llm.ChatMessage {
	return llm.ToolMessage(r.CallID, r.Name, r.Text(), r.Err != nil)
}

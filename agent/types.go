// Package agent provides the tool dispatch loop.
//
// Contains the session handed to a loop and the outcome it produces.
package agent

import (
	"errors"

	"github.com/richinex/gamemaster/llm"
	"github.com/richinex/gamemaster/model"
)

var (
	// ErrIterationCapExceeded is reported when the model keeps requesting
	// tools after MaxIterations rounds.
	ErrIterationCapExceeded = errors.New("iteration cap exceeded")
	// ErrModelTransport wraps failures talking to the model service.
	ErrModelTransport = errors.New("model transport failed")
	// ErrTimeout is reported when the context expires at a suspension point.
	ErrTimeout = errors.New("dispatch timed out")
)

// Session is the starting state of one Run.
type Session struct {
	// SystemInstruction is sent with every request. Optional.
	SystemInstruction string
	// History is the conversation so far; Run never mutates it.
	History []llm.ChatMessage
	// ScopeID is injected into tools that declare NeedsScopeID.
	ScopeID string
}

// OutcomeKind classifies how a Run ended. The kinds are disjoint.
type OutcomeKind int

const (
	// OutcomeText means the model answered without requesting tools.
	OutcomeText OutcomeKind = iota
	// OutcomeTerminal means a terminal tool succeeded.
	OutcomeTerminal
	// OutcomeFailed means the run stopped on an error.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeText:
		return "text"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Step is an alias for model.Step.
type Step = model.Step

// ToolCall is an alias for model.ToolCall for tool call metrics.
type ToolCall = model.ToolCall

// Outcome is the result of one Run.
type Outcome struct {
	Kind OutcomeKind
	// Text is the model's final answer for OutcomeText.
	Text string
	// Payload is the terminal tool's raw return value for OutcomeTerminal.
	Payload any
	// Tool names the terminal tool for OutcomeTerminal.
	Tool string
	// Err is set for OutcomeFailed and matches one of the package errors.
	Err error

	Rounds  int
	Steps   []Step
	Usage   llm.TokenUsage
	History []llm.ChatMessage
}

// Failed reports whether the outcome is OutcomeFailed.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailed
}

// ToolCalls flattens the per-round tool metrics.
func (o Outcome) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, s := range o.Steps {
		calls = append(calls, s.Calls...)
	}
	return calls
}

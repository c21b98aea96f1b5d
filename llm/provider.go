// Package llm provides LLM provider abstractions.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion, including tool schemas
// - Provider-specific message grouping rules

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// one request/response exchange with tool negotiation.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Send performs one model exchange. The model may answer with text,
	// tool calls, or both. Transport failures are returned as errors; a
	// response the provider cannot interpret degrades to empty content.
	Send(ctx context.Context, req Request) (Response, error)
}

// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/richinex/gamemaster/llm"
)

// ErrScriptExhausted is returned by a Scripted provider with no replies.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Reply is one scripted model round.
type Reply struct {
	Response llm.Response
	Err      error
	// Hook runs before the reply is returned, e.g. to cancel a context.
	Hook func(ctx context.Context)
}

// Text scripts a prose answer.
func Text(content string) Reply {
	return Reply{Response: llm.Response{Content: content}}
}

// Calls scripts a round of tool calls.
func Calls(calls ...llm.ToolCall) Reply {
	return Reply{Response: llm.Response{ToolCalls: calls}}
}

// Fail scripts a transport error.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Call builds a tool call, marshaling args to JSON.
func Call(id, name string, args any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return llm.ToolCall{ID: id, Name: name, Arguments: raw}
}

// Scripted replays replies in order. Once the script runs out the last
// reply repeats, which makes non-terminating models easy to express.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// New creates a scripted provider.
func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

func (s *Scripted) Name() string  { return "scripted" }
func (s *Scripted) Model() string { return "scripted-model" }

func (s *Scripted) Send(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	n := len(s.requests)
	req.Messages = append([]llm.ChatMessage(nil), req.Messages...)
	s.requests = append(s.requests, req)
	var r Reply
	switch {
	case len(s.replies) == 0:
		s.mu.Unlock()
		return llm.Response{}, ErrScriptExhausted
	case n < len(s.replies):
		r = s.replies[n]
	default:
		r = s.replies[len(s.replies)-1]
	}
	s.mu.Unlock()

	if r.Hook != nil {
		r.Hook(ctx)
	}
	return r.Response, r.Err
}

// Requests returns every request received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Rounds returns the number of Send calls.
func (s *Scripted) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

var _ llm.Provider = (*Scripted)(nil)

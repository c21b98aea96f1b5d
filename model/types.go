// Package model provides records shared by the dispatch loop and its
// callers.
package model

// Step records one model round of a dispatch loop.
type Step struct {
	Round int
	// Text is whatever prose the model returned alongside its calls.
	Text  string
	Calls []ToolCall
}

// ToolCall contains metrics about a tool invocation.
type ToolCall struct {
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
	Terminal   bool   `json:"terminal,omitempty"`
}

// Failed counts the unsuccessful calls in the steps.
func Failed(steps []Step) int {
	n := 0
	for _, s := range steps {
		for _, c := range s.Calls {
			if !c.Success {
				n++
			}
		}
	}
	return n
}

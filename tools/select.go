package tools

import (
	"context"
)

// SelectMemoriesName is the single tool the relevance reranker exposes.
const SelectMemoriesName = "select_relevant_memories"

// SelectMemories returns the memory-selection tool. It echoes the model's
// list unchanged; interpreting the entries is the caller's job. It is
// terminal so the raw list becomes the loop's payload.
func SelectMemories() Handler {
	return NewFunc(Spec{
		Metadata: Metadata{
			Name:        SelectMemoriesName,
			Description: "Select the memories relevant to the query by their 1-based numbers in the listing.",
			Parameters: []Parameter{{
				Name:        "memory_indices",
				Type:        TypeArray,
				Items:       TypeInteger,
				Description: "Numbers of the relevant memories, most relevant first.",
				Required:    true,
			}},
		},
		Terminal: true,
	}, func(_ context.Context, call Call) (any, error) {
		return call.Args["memory_indices"], nil
	})
}

package storage

import (
	"context"

	"github.com/richinex/gamemaster/llm"
)

// ConversationStorage keeps message transcripts keyed by session ID. The
// session-zero dialogue is saved here between invocations so an unfinished
// character creation can be resumed.
type ConversationStorage interface {
	// Save replaces the transcript for a session.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load returns the transcript, or an empty slice (not nil) when the
	// session doesn't exist. Errors are reserved for storage failures.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	Delete(ctx context.Context, sessionID string) error

	ListSessions(ctx context.Context) ([]string, error)

	Exists(ctx context.Context, sessionID string) (bool, error)
}

package store

import "context"

// SessionIDStore persists the opaque session identifier of each conversation.
// Conversation history is never stored; only the key → id mapping survives restarts.
type SessionIDStore interface {
	// LoadSessionIDs returns all key → session id pairs whose key starts with prefix.
	LoadSessionIDs(ctx context.Context, prefix string) (map[string]string, error)

	// SaveSessionID inserts or replaces the session id for key.
	SaveSessionID(ctx context.Context, key, sessionID string) error

	// Close releases the underlying storage.
	Close() error
}

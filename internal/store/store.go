package store

import (
	"context"
	"time"
)

// Role identifies who authored a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is a single immutable conversation message.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is an append-only conversation log bounded to the most recent
// entries. Implementations evict the oldest entry on overflow.
type Store interface {
	// Append records an entry. Entries are immutable once appended.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n of the most recent entries, oldest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// ConversationID is the locally generated identifier for this log.
	ConversationID() string
}

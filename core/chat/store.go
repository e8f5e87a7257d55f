package chat

import (
	"context"
	"time"
)

// Store is the message collection contract the feed runs against.
//
// Windows and pages are delivered as plain slices; the feed never trusts their
// order and always re-sorts, since a live subscription may redeliver an
// unordered or partially-overlapping window.
type Store interface {
	// ListLatest returns the newest n messages in scope.
	ListLatest(ctx context.Context, scope Scope, n int) ([]Message, error)
	// ListBefore returns up to n messages strictly older than the given cursor
	// position. An empty result means the scope's history is exhausted.
	ListBefore(ctx context.Context, scope Scope, beforeID string, before time.Time, n int) ([]Message, error)
	// GetMessage returns one message by ID.
	GetMessage(ctx context.Context, id string) (Message, error)
	// CreateMessage persists msg, assigning ID and CreatedAt.
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	// DeleteMessage permanently removes a message. No tombstone, no soft-delete.
	DeleteMessage(ctx context.Context, id string) error
	// Subscribe opens a live subscription on the newest n messages in scope.
	// The full current window is redelivered on every relevant mutation,
	// starting with an initial delivery. The channel is closed after cancel
	// is called or ctx is done.
	Subscribe(ctx context.Context, scope Scope, n int) (<-chan []Message, func(), error)
}

// validateRecords is the schema boundary between the external store and the
// feed's typed model: malformed records (missing id or sender, zero timestamp)
// are dropped rather than trusted. Returns the number quarantined.
func validateRecords(msgs []Message) ([]Message, int) {
	out := msgs[:0]
	var dropped int
	for _, m := range msgs {
		if m.ID == "" || m.SenderID == "" || m.CreatedAt.IsZero() {
			dropped++
			continue
		}
		out = append(out, m)
	}
	return out, dropped
}

package realtime

import (
	"context"
	"time"
)

// EventKind enumerates the document mutations the realtime store pushes.
type EventKind string

const (
	// EventKindCreate announces a newly created document.
	EventKindCreate EventKind = "create"
	// EventKindUpdate announces an in-place document update.
	EventKindUpdate EventKind = "update"
	// EventKindDelete announces a document removal.
	EventKindDelete EventKind = "delete"
)

const (
	// SentinelSessionEnded is the in-band content marking the end of a
	// conversation. It is a signal, never user content.
	SentinelSessionEnded = "SESSION_ENDED"
	// SystemSenderID is the reserved sender for sentinel messages.
	SystemSenderID = "SYSTEM"
)

// Event is one delivered mutation from the realtime store. Delivery is
// at-least-once: consumers must treat events as replayable and dedup by ID.
type Event struct {
	Kind           EventKind `json:"kind"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsSessionEnd reports whether the event is the session-end sentinel.
func (e Event) IsSessionEnd() bool {
	return e.Kind == EventKindCreate && e.Content == SentinelSessionEnded && e.SenderID == SystemSenderID
}

// Subscriber opens a push stream of events for a channel. The returned
// cancel function closes the stream; the channel is also closed when the
// context is done. Implementations may fail the subscribe call itself,
// which the connection manager treats as a transport failure.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error)
}

// Publisher writes one event to a channel. Publishes are one-shot: failures
// surface to the caller and are never retried here.
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

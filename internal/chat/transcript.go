package chat

import (
	"sync"
	"time"

	"github.com/harborlabs/harbor/backend/internal/realtime"
)

// Message is one transcript entry.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transcript is the client-facing view of one conversation: messages in
// arrival order, deduplicated by document ID, plus an ended flag. Events
// arrive at-least-once, so every mutation here is idempotent.
type Transcript struct {
	mu             sync.Mutex
	conversationID string
	messages       []Message
	index          map[string]int
	ended          bool
}

// NewTranscript builds an empty transcript bound to one conversation.
func NewTranscript(conversationID string) *Transcript {
	return &Transcript{
		conversationID: conversationID,
		index:          make(map[string]int),
	}
}

// Apply folds one realtime event into the transcript. Events for other
// conversations are ignored. The session-end sentinel flips the ended flag
// and never becomes an entry; replayed sentinels are harmless.
func (t *Transcript) Apply(event realtime.Event) {
	if event.ConversationID != t.conversationID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case realtime.EventKindCreate:
		if event.IsSessionEnd() {
			t.ended = true
			return
		}
		if _, ok := t.index[event.ID]; ok {
			return
		}
		t.index[event.ID] = len(t.messages)
		t.messages = append(t.messages, Message{
			ID:             event.ID,
			ConversationID: event.ConversationID,
			SenderID:       event.SenderID,
			Content:        event.Content,
			CreatedAt:      event.CreatedAt,
		})
	case realtime.EventKindUpdate:
		position, ok := t.index[event.ID]
		if !ok {
			return
		}
		t.messages[position].Content = event.Content
	case realtime.EventKindDelete:
		position, ok := t.index[event.ID]
		if !ok {
			return
		}
		t.messages = append(t.messages[:position], t.messages[position+1:]...)
		delete(t.index, event.ID)
		for i := position; i < len(t.messages); i++ {
			t.index[t.messages[i].ID] = i
		}
	}
}

// Messages returns a copy of the transcript entries in arrival order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	messages := make([]Message, len(t.messages))
	copy(messages, t.messages)
	return messages
}

// Ended reports whether the session-end sentinel has been observed.
func (t *Transcript) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Len returns the number of transcript entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

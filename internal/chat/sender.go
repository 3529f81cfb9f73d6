package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborlabs/harbor/backend/internal/realtime"
)

var (
	// ErrMissingPublisher is returned when a sender is built without a publisher.
	ErrMissingPublisher = errors.New("chat: publisher is required")
	// ErrEmptyConversationID rejects sends without a conversation.
	ErrEmptyConversationID = errors.New("chat: conversation id must not be empty")
	// ErrEmptySenderID rejects sends without a sender.
	ErrEmptySenderID = errors.New("chat: sender id must not be empty")
	// ErrEmptyContent rejects blank messages.
	ErrEmptyContent = errors.New("chat: content must not be empty")
	// ErrReservedSender rejects user sends impersonating the system sender.
	ErrReservedSender = errors.New("chat: sender id is reserved")
)

// Sender publishes chat messages. Every send is one-shot: a failed publish
// surfaces to the caller and is never retried, so the caller decides whether
// the message is worth re-entering.
type Sender struct {
	publisher realtime.Publisher
	channel   string
	clock     func() time.Time
}

// NewSender builds a sender for one channel. A nil clock means time.Now.
func NewSender(publisher realtime.Publisher, channel string, clock func() time.Time) (*Sender, error) {
	if publisher == nil {
		return nil, ErrMissingPublisher
	}
	if clock == nil {
		clock = time.Now
	}
	return &Sender{publisher: publisher, channel: channel, clock: clock}, nil
}

// Send publishes one user message and returns the event it produced, ID
// included, so the caller can echo it optimistically.
func (s *Sender) Send(ctx context.Context, conversationID, senderID, content string) (realtime.Event, error) {
	if strings.TrimSpace(conversationID) == "" {
		return realtime.Event{}, ErrEmptyConversationID
	}
	if strings.TrimSpace(senderID) == "" {
		return realtime.Event{}, ErrEmptySenderID
	}
	if senderID == realtime.SystemSenderID {
		return realtime.Event{}, ErrReservedSender
	}
	if strings.TrimSpace(content) == "" {
		return realtime.Event{}, ErrEmptyContent
	}
	event := realtime.Event{
		Kind:           realtime.EventKindCreate,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.channel, event); err != nil {
		return realtime.Event{}, err
	}
	return event, nil
}

// AnnounceConnection publishes the system message telling the listener a
// speaker has been matched for the given topic.
func (s *Sender) AnnounceConnection(ctx context.Context, conversationID, topic string) (realtime.Event, error) {
	if strings.TrimSpace(conversationID) == "" {
		return realtime.Event{}, ErrEmptyConversationID
	}
	event := realtime.Event{
		Kind:           realtime.EventKindCreate,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       realtime.SystemSenderID,
		Content:        "Connected with a speaker who wants to discuss: " + strings.TrimSpace(topic),
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.channel, event); err != nil {
		return realtime.Event{}, err
	}
	return event, nil
}

// AnnounceSessionEnd publishes the end-of-session sentinel on behalf of the
// system sender.
func (s *Sender) AnnounceSessionEnd(ctx context.Context, conversationID string) (realtime.Event, error) {
	if strings.TrimSpace(conversationID) == "" {
		return realtime.Event{}, ErrEmptyConversationID
	}
	event := realtime.Event{
		Kind:           realtime.EventKindCreate,
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       realtime.SystemSenderID,
		Content:        realtime.SentinelSessionEnded,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.channel, event); err != nil {
		return realtime.Event{}, err
	}
	return event, nil
}

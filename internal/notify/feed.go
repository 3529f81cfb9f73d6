package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborlabs/harbor/backend/internal/realtime"
)

const (
	// connectionPrefix marks the system message that announces a new match.
	connectionPrefix = "Connected"
	// topicMarker precedes the conversation topic inside the announcement.
	topicMarker = "discuss:"
	// speakerLabel is the only identity ever shown for the speaker side.
	speakerLabel = "Anonymous Speaker"

	defaultDedupWindow = 30 * time.Second
)

var (
	// ErrMissingUserID is returned when a feed is built without an owner.
	ErrMissingUserID = errors.New("notify: user id is required")
	// ErrMissingAuthorizer is returned when a feed is built without an authorizer.
	ErrMissingAuthorizer = errors.New("notify: authorizer is required")
)

// Authorizer decides whether a user is the listener of a conversation.
// Connection notifications go to listeners only.
type Authorizer interface {
	IsListener(ctx context.Context, conversationID, userID string) (bool, error)
}

// Notification is one entry in a listener's feed.
type Notification struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Topic          string    `json:"topic"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// FeedConfig carries the dependencies for one user's notification feed.
type FeedConfig struct {
	UserID      string
	Authorizer  Authorizer
	DedupWindow time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Feed turns connection announcements into notifications for one listener.
// It dedups by event ID, rate-limits per conversation, and suppresses
// notifications for the conversation the user is currently viewing.
type Feed struct {
	mu            sync.Mutex
	userID        string
	authorizer    Authorizer
	dedupWindow   time.Duration
	clock         func() time.Time
	logger        *zap.Logger
	notifications []Notification
	seenEvents    map[string]struct{}
	lastNotified  map[string]time.Time
	activeConvID  string
}

// NewFeed validates the configuration and builds an empty feed.
func NewFeed(config FeedConfig) (*Feed, error) {
	if strings.TrimSpace(config.UserID) == "" {
		return nil, ErrMissingUserID
	}
	if config.Authorizer == nil {
		return nil, ErrMissingAuthorizer
	}
	feed := &Feed{
		userID:       config.UserID,
		authorizer:   config.Authorizer,
		dedupWindow:  config.DedupWindow,
		clock:        config.Clock,
		logger:       config.Logger,
		seenEvents:   make(map[string]struct{}),
		lastNotified: make(map[string]time.Time),
	}
	if feed.dedupWindow <= 0 {
		feed.dedupWindow = defaultDedupWindow
	}
	if feed.clock == nil {
		feed.clock = time.Now
	}
	if feed.logger == nil {
		feed.logger = zap.NewNop()
	}
	return feed, nil
}

// HandleEvent inspects one realtime event and records a notification when it
// is a connection announcement this user should see. Events the user sent
// themselves, redeliveries, and rate-limited events are dropped silently.
func (f *Feed) HandleEvent(ctx context.Context, event realtime.Event) {
	if event.Kind != realtime.EventKindCreate || event.IsSessionEnd() {
		return
	}
	if event.SenderID == f.userID {
		return
	}
	if !strings.HasPrefix(event.Content, connectionPrefix) {
		return
	}

	f.mu.Lock()
	if _, seen := f.seenEvents[event.ID]; seen {
		f.mu.Unlock()
		return
	}
	f.seenEvents[event.ID] = struct{}{}
	f.mu.Unlock()

	isListener, err := f.authorizer.IsListener(ctx, event.ConversationID, f.userID)
	if err != nil {
		f.logger.Warn("listener check failed",
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err))
		return
	}
	if !isListener {
		return
	}

	now := f.clock()
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.ConversationID == f.activeConvID {
		return
	}
	if last, ok := f.lastNotified[event.ConversationID]; ok && now.Sub(last) < f.dedupWindow {
		return
	}
	f.lastNotified[event.ConversationID] = now

	notification := Notification{
		ID:             event.ID,
		ConversationID: event.ConversationID,
		Title:          speakerLabel,
		Body:           event.Content,
		Topic:          parseTopic(event.Content),
		CreatedAt:      now,
	}
	f.notifications = append([]Notification{notification}, f.notifications...)
}

// parseTopic extracts the topic that follows the announcement marker. An
// announcement without the marker yields an empty topic.
func parseTopic(content string) string {
	position := strings.Index(content, topicMarker)
	if position < 0 {
		return ""
	}
	return strings.TrimSpace(content[position+len(topicMarker):])
}

// SetActiveConversation suppresses notifications for the named conversation.
// An empty id clears the suppression.
func (f *Feed) SetActiveConversation(conversationID string) {
	f.mu.Lock()
	f.activeConvID = conversationID
	f.mu.Unlock()
}

// Notifications returns a newest-first copy of the feed.
func (f *Feed) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	notifications := make([]Notification, len(f.notifications))
	copy(notifications, f.notifications)
	return notifications
}

// UnreadCount reports how many notifications are unread. It can never go
// negative regardless of the mark and remove call order.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, notification := range f.notifications {
		if !notification.Read {
			count++
		}
	}
	return count
}

// MarkRead marks one notification read. Unknown ids are ignored.
func (f *Feed) MarkRead(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == id {
			f.notifications[i].Read = true
			return
		}
	}
}

// MarkAllRead marks every notification read.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		f.notifications[i].Read = true
	}
}

// Remove drops one notification. Unknown ids are ignored.
func (f *Feed) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == id {
			f.notifications = append(f.notifications[:i], f.notifications[i+1:]...)
			return
		}
	}
}

// ClearConversation drops every notification for one conversation.
func (f *Feed) ClearConversation(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.notifications[:0]
	for _, notification := range f.notifications {
		if notification.ConversationID != conversationID {
			kept = append(kept, notification)
		}
	}
	f.notifications = kept
}

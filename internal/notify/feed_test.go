package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborlabs/harbor/backend/internal/realtime"
)

type stubAuthorizer struct {
	listenerID string
	failure    error
}

func (a *stubAuthorizer) IsListener(_ context.Context, _, userID string) (bool, error) {
	if a.failure != nil {
		return false, a.failure
	}
	return userID == a.listenerID, nil
}

type feedClock struct {
	now time.Time
}

func (c *feedClock) Now() time.Time { return c.now }

func (c *feedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestFeed(t *testing.T, authorizer Authorizer) (*Feed, *feedClock) {
	t.Helper()
	clock := &feedClock{now: time.Unix(1700000000, 0).UTC()}
	feed, err := NewFeed(FeedConfig{
		UserID:      "listener-1",
		Authorizer:  authorizer,
		DedupWindow: 30 * time.Second,
		Clock:       clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected feed constructor error: %v", err)
	}
	return feed, clock
}

func announcement(id, conversationID, topic string) realtime.Event {
	return realtime.Event{
		Kind:           realtime.EventKindCreate,
		ID:             id,
		ConversationID: conversationID,
		SenderID:       realtime.SystemSenderID,
		Content:        "Connected with a speaker who wants to discuss: " + topic,
	}
}

func TestNewFeedValidation(t *testing.T) {
	if _, err := NewFeed(FeedConfig{Authorizer: &stubAuthorizer{}}); err != ErrMissingUserID {
		t.Fatalf("expected missing user id error, got %v", err)
	}
	if _, err := NewFeed(FeedConfig{UserID: "listener-1"}); err != ErrMissingAuthorizer {
		t.Fatalf("expected missing authorizer error, got %v", err)
	}
}

func TestAnnouncementBecomesNotification(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})

	feed.HandleEvent(context.Background(), announcement("e1", "c1", "stage fright"))

	notifications := feed.Notifications()
	if len(notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifications))
	}
	if notifications[0].Title != "Anonymous Speaker" {
		t.Fatalf("unexpected title: %q", notifications[0].Title)
	}
	if notifications[0].Topic != "stage fright" {
		t.Fatalf("unexpected topic: %q", notifications[0].Topic)
	}
	if feed.UnreadCount() != 1 {
		t.Fatalf("expected one unread, got %d", feed.UnreadCount())
	}
}

func TestNonAnnouncementContentIsIgnored(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})

	feed.HandleEvent(context.Background(), realtime.Event{
		Kind:           realtime.EventKindCreate,
		ID:             "e1",
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "hello there",
	})

	if len(feed.Notifications()) != 0 {
		t.Fatalf("expected plain chat to produce no notification")
	}
}

func TestOwnMessagesNeverNotify(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})

	feed.HandleEvent(context.Background(), realtime.Event{
		Kind:           realtime.EventKindCreate,
		ID:             "e1",
		ConversationID: "c1",
		SenderID:       "listener-1",
		Content:        "Connected with a speaker who wants to discuss: moving abroad",
	})

	if len(feed.Notifications()) != 0 {
		t.Fatalf("expected the feed owner's own message to be suppressed")
	}
}

func TestNonListenerGetsNoNotification(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{listenerID: "someone-else"})

	feed.HandleEvent(context.Background(), announcement("e1", "c1", "loneliness"))

	if len(feed.Notifications()) != 0 {
		t.Fatalf("expected no notification for a non-listener")
	}
}

func TestAuthorizerFailureDropsEvent(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{failure: errors.New("db down")})

	feed.HandleEvent(context.Background(), announcement("e1", "c1", "grief"))

	if len(feed.Notifications()) != 0 {
		t.Fatalf("expected no notification when the listener check fails")
	}
}

func TestRedeliveredEventIsDeduplicated(t *testing.T) {
	feed, clock := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})
	event := announcement("e1", "c1", "burnout")

	feed.HandleEvent(context.Background(), event)
	clock.Advance(time.Minute)
	feed.HandleEvent(context.Background(), event)

	if len(feed.Notifications()) != 1 {
		t.Fatalf("expected redelivery to be dropped, got %d", len(feed.Notifications()))
	}
}

func TestConversationRateLimitWindow(t *testing.T) {
	feed, clock := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})
	ctx := context.Background()

	feed.HandleEvent(ctx, announcement("e1", "c1", "burnout"))
	clock.Advance(10 * time.Second)
	feed.HandleEvent(ctx, announcement("e2", "c1", "burnout"))

	if len(feed.Notifications()) != 1 {
		t.Fatalf("expected the second announcement within the window to be dropped")
	}

	clock.Advance(30 * time.Second)
	feed.HandleEvent(ctx, announcement("e3", "c1", "burnout"))

	if len(feed.Notifications()) != 2 {
		t.Fatalf("expected a new notification after the window, got %d", len(feed.Notifications()))
	}
}

func TestActiveConversationSuppressesNotifications(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})
	ctx := context.Background()

	feed.SetActiveConversation("c1")
	feed.HandleEvent(ctx, announcement("e1", "c1", "anxiety"))
	feed.HandleEvent(ctx, announcement("e2", "c2", "anxiety"))

	notifications := feed.Notifications()
	if len(notifications) != 1 || notifications[0].ConversationID != "c2" {
		t.Fatalf("expected only the background conversation to notify: %+v", notifications)
	}

	feed.SetActiveConversation("")
	feed.HandleEvent(ctx, announcement("e3", "c1", "anxiety"))
	if len(feed.Notifications()) != 2 {
		t.Fatalf("expected notifications to resume after leaving the conversation")
	}
}

func TestNotificationsAreNewestFirst(t *testing.T) {
	feed, clock := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})
	ctx := context.Background()

	feed.HandleEvent(ctx, announcement("e1", "c1", "first"))
	clock.Advance(time.Minute)
	feed.HandleEvent(ctx, announcement("e2", "c2", "second"))

	notifications := feed.Notifications()
	if notifications[0].ID != "e2" || notifications[1].ID != "e1" {
		t.Fatalf("expected newest first, got %+v", notifications)
	}
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	feed, _ := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})
	ctx := context.Background()

	feed.HandleEvent(ctx, announcement("e1", "c1", "a"))
	feed.HandleEvent(ctx, announcement("e2", "c2", "b"))

	feed.MarkRead("e1")
	feed.MarkRead("e1")
	feed.MarkRead("ghost")
	if feed.UnreadCount() != 1 {
		t.Fatalf("expected one unread, got %d", feed.UnreadCount())
	}

	feed.MarkAllRead()
	if feed.UnreadCount() != 0 {
		t.Fatalf("expected zero unread, got %d", feed.UnreadCount())
	}
}

func TestRemoveAndClearConversation(t *testing.T) {
	feed, clock := newTestFeed(t, &stubAuthorizer{listenerID: "listener-1"})
	ctx := context.Background()

	feed.HandleEvent(ctx, announcement("e1", "c1", "a"))
	clock.Advance(time.Minute)
	feed.HandleEvent(ctx, announcement("e2", "c1", "a"))
	clock.Advance(time.Minute)
	feed.HandleEvent(ctx, announcement("e3", "c2", "b"))

	feed.Remove("e3")
	feed.Remove("e3")
	if len(feed.Notifications()) != 2 {
		t.Fatalf("expected two notifications after remove, got %d", len(feed.Notifications()))
	}

	feed.ClearConversation("c1")
	if len(feed.Notifications()) != 0 {
		t.Fatalf("expected conversation notifications to be cleared")
	}
	if feed.UnreadCount() != 0 {
		t.Fatalf("unread count must never go negative, got %d", feed.UnreadCount())
	}
}

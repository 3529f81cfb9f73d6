package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborlabs/harbor/backend/internal/realtime"
)

type capturingPublisher struct {
	events  []realtime.Event
	failure error
	calls   int
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event realtime.Event) error {
	p.calls++
	if p.failure != nil {
		return p.failure
	}
	p.events = append(p.events, event)
	return nil
}

func newTestSender(t *testing.T, publisher *capturingPublisher) *Sender {
	t.Helper()
	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	sender, err := NewSender(publisher, "messages", clock)
	if err != nil {
		t.Fatalf("unexpected sender constructor error: %v", err)
	}
	return sender
}

func TestNewSenderRequiresPublisher(t *testing.T) {
	if _, err := NewSender(nil, "messages", nil); err != ErrMissingPublisher {
		t.Fatalf("expected missing publisher error, got %v", err)
	}
}

func TestSendPublishesCreateEvent(t *testing.T) {
	publisher := &capturingPublisher{}
	sender := newTestSender(t, publisher)

	event, err := sender.Send(context.Background(), "c1", "alice", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if event.Kind != realtime.EventKindCreate {
		t.Fatalf("expected a create event, got %q", event.Kind)
	}
	if event.ID == "" {
		t.Fatalf("expected a generated event id")
	}
	if len(publisher.events) != 1 || publisher.events[0].ID != event.ID {
		t.Fatalf("published event mismatch: %+v", publisher.events)
	}

	second, err := sender.Send(context.Background(), "c1", "alice", "again")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if second.ID == event.ID {
		t.Fatalf("expected unique event ids")
	}
}

func TestSendValidatesInput(t *testing.T) {
	sender := newTestSender(t, &capturingPublisher{})
	ctx := context.Background()

	if _, err := sender.Send(ctx, " ", "alice", "hello"); err != ErrEmptyConversationID {
		t.Fatalf("expected conversation id error, got %v", err)
	}
	if _, err := sender.Send(ctx, "c1", "", "hello"); err != ErrEmptySenderID {
		t.Fatalf("expected sender id error, got %v", err)
	}
	if _, err := sender.Send(ctx, "c1", "alice", "  "); err != ErrEmptyContent {
		t.Fatalf("expected content error, got %v", err)
	}
	if _, err := sender.Send(ctx, "c1", realtime.SystemSenderID, "hello"); err != ErrReservedSender {
		t.Fatalf("expected reserved sender error, got %v", err)
	}
}

func TestSendDoesNotRetryFailedPublish(t *testing.T) {
	publisher := &capturingPublisher{failure: errors.New("store unavailable")}
	sender := newTestSender(t, publisher)

	if _, err := sender.Send(context.Background(), "c1", "alice", "hello"); err == nil {
		t.Fatalf("expected the publish failure to surface")
	}
	if publisher.calls != 1 {
		t.Fatalf("expected exactly one publish attempt, got %d", publisher.calls)
	}
}

func TestAnnounceConnectionCarriesTopic(t *testing.T) {
	publisher := &capturingPublisher{}
	sender := newTestSender(t, publisher)

	event, err := sender.AnnounceConnection(context.Background(), "c1", " stage fright ")
	if err != nil {
		t.Fatalf("announce failed: %v", err)
	}
	if event.SenderID != realtime.SystemSenderID {
		t.Fatalf("expected the system sender, got %q", event.SenderID)
	}
	if event.Content != "Connected with a speaker who wants to discuss: stage fright" {
		t.Fatalf("unexpected announcement content: %q", event.Content)
	}
}

func TestAnnounceSessionEndPublishesSentinel(t *testing.T) {
	publisher := &capturingPublisher{}
	sender := newTestSender(t, publisher)

	event, err := sender.AnnounceSessionEnd(context.Background(), "c1")
	if err != nil {
		t.Fatalf("announce failed: %v", err)
	}
	if !event.IsSessionEnd() {
		t.Fatalf("expected a session-end sentinel, got %+v", event)
	}
}

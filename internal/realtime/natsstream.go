package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSStream adapts a NATS connection to the Subscriber and Publisher
// interfaces so multi-instance deployments can share one realtime plane.
// Events travel as JSON on "<prefix>.<channel>" subjects.
type NATSStream struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSStream wraps an established NATS connection. An empty prefix maps
// channels to bare subjects.
func NewNATSStream(conn *nats.Conn, prefix string) *NATSStream {
	return &NATSStream{conn: conn, prefix: prefix}
}

func (s *NATSStream) subject(channel string) string {
	if s.prefix == "" {
		return channel
	}
	return s.prefix + "." + channel
}

// Subscribe implements Subscriber. Messages that fail to decode are dropped;
// the stream closes on cancel or when the context is done.
func (s *NATSStream) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	messages := make(chan *nats.Msg, 64)
	subscription, err := s.conn.ChanSubscribe(s.subject(channel), messages)
	if err != nil {
		return nil, nil, err
	}

	stream := make(chan Event, 16)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = subscription.Unsubscribe()
			close(done)
		})
	}

	go func() {
		defer close(stream)
		for {
			select {
			case <-done:
				return
			case message := <-messages:
				var event Event
				if err := json.Unmarshal(message.Data, &event); err != nil {
					continue
				}
				select {
				case stream <- event:
				case <-done:
					return
				}
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return stream, cancel, nil
}

// Publish implements Publisher with a single fire-and-forget write.
func (s *NATSStream) Publish(_ context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject(channel), payload)
}

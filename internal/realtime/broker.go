package realtime

import (
	"context"
	"sync"
)

// Broker is the in-process realtime store used by single-instance
// deployments: a channel-keyed pub/sub with buffered per-subscriber
// streams. Slow subscribers drop events rather than block publishers;
// the reconnect machinery upstream treats gaps like any other transport
// imperfection.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*brokerSubscriber
	nextID      int64
	bufferSize  int
}

type brokerSubscriber struct {
	id     int64
	stream chan Event
	once   sync.Once
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[int64]*brokerSubscriber),
		bufferSize:  16,
	}
}

// Subscribe implements Subscriber. The stream closes when cancel is called
// or the context is done; both paths unregister the subscriber.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	subscriber := &brokerSubscriber{
		id:     b.nextSequence(),
		stream: make(chan Event, b.bufferSize),
	}
	b.registerSubscriber(channel, subscriber)

	cancel := func() {
		b.unregisterSubscriber(channel, subscriber)
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return subscriber.stream, cancel, nil
}

// Publish implements Publisher, fanning the event out to every live
// subscriber on the channel without blocking. Sends happen under the read
// lock so a stream is never closed mid-send.
func (b *Broker) Publish(_ context.Context, channel string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subscriber := range b.subscribers[channel] {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
	return nil
}

func (b *Broker) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broker) registerSubscriber(channel string, subscriber *brokerSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[channel]; !ok {
		b.subscribers[channel] = make(map[int64]*brokerSubscriber)
	}
	b.subscribers[channel][subscriber.id] = subscriber
}

func (b *Broker) unregisterSubscriber(channel string, subscriber *brokerSubscriber) {
	b.mu.Lock()
	subscribers := b.subscribers[channel]
	if subscribers != nil {
		delete(subscribers, subscriber.id)
		if len(subscribers) == 0 {
			delete(b.subscribers, channel)
		}
	}
	b.mu.Unlock()
	subscriber.once.Do(func() {
		close(subscriber.stream)
	})
}

package realtime

import "sync"

// State is one phase of the connection lifecycle.
type State string

const (
	// StateConnecting means a subscribe attempt is in flight.
	StateConnecting State = "connecting"
	// StateConnected means the stream has delivered at least one event.
	StateConnected State = "connected"
	// StateDisconnected means the stream was just lost.
	StateDisconnected State = "disconnected"
	// StateReconnecting means the manager is waiting out a backoff delay.
	StateReconnecting State = "reconnecting"
	// StateExhausted means reconnection gave up; only Retry leaves it.
	StateExhausted State = "exhausted"
)

// Status is the connection state plus the consecutive failure count.
type Status struct {
	State    State
	Attempts int
}

// StatusBroadcaster is an observable connection status. Listeners register
// explicitly and get an unregister function back, so an owner can always
// undo exactly its own registration.
type StatusBroadcaster struct {
	mu        sync.Mutex
	current   Status
	nextID    int64
	listeners map[int64]func(Status)
}

// NewStatusBroadcaster starts in the connecting state with no listeners.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		current:   Status{State: StateConnecting},
		listeners: make(map[int64]func(Status)),
	}
}

// Register adds a listener and immediately invokes it with the current
// status, so late registrants never wait for the next transition.
func (b *StatusBroadcaster) Register(listener func(Status)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = listener
	current := b.current
	b.mu.Unlock()

	listener(current)
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Snapshot returns the current status.
func (b *StatusBroadcaster) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *StatusBroadcaster) set(status Status) {
	b.mu.Lock()
	b.current = status
	notify := make([]func(Status), 0, len(b.listeners))
	for _, listener := range b.listeners {
		notify = append(notify, listener)
	}
	b.mu.Unlock()

	for _, listener := range notify {
		listener(status)
	}
}

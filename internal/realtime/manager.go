package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingSource is returned when a manager is built without a subscriber.
	ErrMissingSource = errors.New("realtime: subscriber source is required")
	// ErrMissingHandler is returned when a manager is built without an event handler.
	ErrMissingHandler = errors.New("realtime: event handler is required")
	// ErrStreamClosed marks a stream that ended without the context being done.
	ErrStreamClosed = errors.New("realtime: stream closed")
	// ErrInitialDeliveryTimeout marks a stream that never delivered its first event.
	ErrInitialDeliveryTimeout = errors.New("realtime: no initial delivery within watchdog window")
)

const (
	defaultBackoffBase    = time.Second
	defaultBackoffLimit   = 30 * time.Second
	defaultMaxAttempts    = 10
	defaultWatchdogWindow = 10 * time.Second
)

// ManagerConfig carries the dependencies and tuning knobs for a Manager.
// Zero durations and counts fall back to the defaults above.
type ManagerConfig struct {
	Channel        string
	Source         Subscriber
	OnEvent        func(Event)
	Status         *StatusBroadcaster
	BackoffBase    time.Duration
	BackoffLimit   time.Duration
	MaxAttempts    int
	WatchdogWindow time.Duration
	Logger         *zap.Logger
}

// Manager keeps one channel subscription alive. It subscribes, counts a
// connection as established only once the stream delivers, and on loss
// retries with exponential backoff until the consecutive failure budget is
// spent. Past that point it parks in the exhausted state until Retry.
type Manager struct {
	channel        string
	source         Subscriber
	handle         func(Event)
	status         *StatusBroadcaster
	backoffBase    time.Duration
	backoffLimit   time.Duration
	maxAttempts    int
	watchdogWindow time.Duration
	logger         *zap.Logger

	retry     chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	lifeMu sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewManager validates the configuration and builds a stopped manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Source == nil {
		return nil, ErrMissingSource
	}
	if config.OnEvent == nil {
		return nil, ErrMissingHandler
	}
	status := config.Status
	if status == nil {
		status = NewStatusBroadcaster()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &Manager{
		channel:        config.Channel,
		source:         config.Source,
		handle:         config.OnEvent,
		status:         status,
		backoffBase:    config.BackoffBase,
		backoffLimit:   config.BackoffLimit,
		maxAttempts:    config.MaxAttempts,
		watchdogWindow: config.WatchdogWindow,
		logger:         logger,
		retry:          make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	if manager.backoffBase <= 0 {
		manager.backoffBase = defaultBackoffBase
	}
	if manager.backoffLimit <= 0 {
		manager.backoffLimit = defaultBackoffLimit
	}
	if manager.maxAttempts <= 0 {
		manager.maxAttempts = defaultMaxAttempts
	}
	if manager.watchdogWindow <= 0 {
		manager.watchdogWindow = defaultWatchdogWindow
	}
	return manager, nil
}

// Status exposes the manager's connection status observable.
func (m *Manager) Status() *StatusBroadcaster {
	return m.status
}

// Start launches the connection loop. Calling Start more than once, or after
// Close, is a no-op.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.lifeMu.Lock()
		if m.closed {
			m.lifeMu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.lifeMu.Unlock()
		go m.run(ctx)
	})
}

// Retry resets the consecutive failure counter and forces an immediate
// reconnect attempt. It is the only way out of the exhausted state and also
// cuts short an in-progress backoff delay.
func (m *Manager) Retry() {
	select {
	case m.retry <- struct{}{}:
	default:
	}
}

// Close stops the connection loop and waits for it to exit. Closing a
// manager that was never started is safe.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.lifeMu.Lock()
		m.closed = true
		cancel := m.cancel
		m.lifeMu.Unlock()
		if cancel == nil {
			close(m.done)
			return
		}
		cancel()
		<-m.done
	})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		m.status.set(Status{State: StateConnecting, Attempts: attempts})

		delivered, cause := m.consumeOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			attempts = 0
		}
		attempts++
		m.status.set(Status{State: StateDisconnected, Attempts: attempts})
		m.logger.Warn("realtime stream lost",
			zap.String("channel", m.channel),
			zap.Int("attempts", attempts),
			zap.Error(cause))

		if attempts >= m.maxAttempts {
			m.status.set(Status{State: StateExhausted, Attempts: attempts})
			select {
			case <-ctx.Done():
				return
			case <-m.retry:
				attempts = 0
			}
			continue
		}

		m.status.set(Status{State: StateReconnecting, Attempts: attempts})
		delay := backoffDelay(attempts, m.backoffBase, m.backoffLimit)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.retry:
			timer.Stop()
			attempts = 0
		case <-timer.C:
		}
	}
}

// consumeOnce runs a single subscription to completion. It reports whether
// the stream delivered at least one event and why it ended.
func (m *Manager) consumeOnce(ctx context.Context) (bool, error) {
	stream, stop, err := m.source.Subscribe(ctx, m.channel)
	if err != nil {
		return false, err
	}
	defer stop()

	watchdog := time.NewTimer(m.watchdogWindow)
	defer watchdog.Stop()

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-watchdog.C:
			if !delivered {
				return false, ErrInitialDeliveryTimeout
			}
		case event, ok := <-stream:
			if !ok {
				return delivered, ErrStreamClosed
			}
			if !delivered {
				delivered = true
				watchdog.Stop()
				m.status.set(Status{State: StateConnected})
			}
			m.handle(event)
		}
	}
}

// backoffDelay returns the wait before reconnect attempt n (1-indexed):
// base doubled per prior failure, never above limit.
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

package presence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultOfflineThreshold = 3 * time.Minute
	defaultCleanupInterval  = 30 * time.Second
	defaultCacheMaxAge      = 10 * time.Second
)

var (
	// ErrMissingStore indicates the tracker was constructed without a backend.
	ErrMissingStore = errors.New("presence: store required")
	// ErrEmptyUserID indicates a heartbeat arrived without a resolved identity.
	ErrEmptyUserID = errors.New("presence: user id required")
)

// TrackerConfig configures a Tracker. Zero durations fall back to the
// product defaults.
type TrackerConfig struct {
	Store            Store
	OfflineThreshold time.Duration
	CleanupInterval  time.Duration
	CacheMaxAge      time.Duration
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Tracker answers "is this user online" for batches of user identifiers.
// A user is online iff their most recent heartbeat is younger than the
// offline threshold; the check never depends on whether a stale record has
// been swept yet.
type Tracker struct {
	store            Store
	offlineThreshold time.Duration
	cleanupInterval  time.Duration
	cacheMaxAge      time.Duration
	clock            func() time.Time
	logger           *zap.Logger

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewTracker constructs a Tracker over the provided store.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	threshold := cfg.OfflineThreshold
	if threshold <= 0 {
		threshold = defaultOfflineThreshold
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	cacheMaxAge := cfg.CacheMaxAge
	if cacheMaxAge <= 0 {
		cacheMaxAge = defaultCacheMaxAge
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:            cfg.Store,
		offlineThreshold: threshold,
		cleanupInterval:  interval,
		cacheMaxAge:      cacheMaxAge,
		clock:            clock,
		logger:           logger,
	}, nil
}

// RecordHeartbeat refreshes the caller's last-seen timestamp, creating the
// record if absent. Idempotent.
func (t *Tracker) RecordHeartbeat(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	return t.store.Set(ctx, userID, t.clock())
}

// QueryOnlineStatus reports, for each requested identifier, whether the most
// recent heartbeat falls within the offline threshold. Users without a
// record read as offline. An opportunistic sweep piggybacks on the call when
// the cleanup interval has elapsed.
func (t *Tracker) QueryOnlineStatus(ctx context.Context, userIDs []string) (map[string]bool, error) {
	now := t.clock()
	t.maybeSweep(ctx, now)

	status := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return status, nil
	}

	records, err := t.store.GetBatch(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for _, userID := range userIDs {
		seen, ok := records[userID]
		status[userID] = ok && now.Sub(seen) < t.offlineThreshold
	}
	return status, nil
}

// CacheMaxAge is the window for which callers may serve a cached query
// response.
func (t *Tracker) CacheMaxAge() time.Duration {
	return t.cacheMaxAge
}

// maybeSweep evicts stale records at most once per cleanup interval. Sweeps
// are best effort: a failure only delays eviction, never affects answers.
func (t *Tracker) maybeSweep(ctx context.Context, now time.Time) {
	t.sweepMu.Lock()
	if now.Sub(t.lastSweep) <= t.cleanupInterval {
		t.sweepMu.Unlock()
		return
	}
	t.lastSweep = now
	t.sweepMu.Unlock()

	if err := t.store.Sweep(ctx, now.Add(-t.offlineThreshold)); err != nil {
		t.logger.Warn("presence sweep failed", zap.Error(err))
	}
}

// Package dedup provides the in-process event store used when no database
// is configured. Claims do not survive a restart and are not shared between
// instances.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"payrelay/internal/types"
)

// DefaultJanitorInterval is how often expired claims are swept in the
// background. PurgeExpired sweeps on demand.
const DefaultJanitorInterval = 10 * time.Minute

// MemoryStore keeps event claims in a TTL cache. Each claim expires with its
// own TTL; an expired claim is invisible and can be claimed again.
type MemoryStore struct {
	// mu serialises read-modify-write sequences (MarkFulfilled, purge
	// counting). Single-key claim and release are atomic in the cache.
	mu     sync.Mutex
	claims *cache.Cache
}

type options struct {
	janitor time.Duration
}

// Option customizes a MemoryStore.
type Option func(*options)

// WithJanitorInterval sets the background sweep interval. Zero disables
// the sweep, leaving PurgeExpired as the only cleanup.
func WithJanitorInterval(d time.Duration) Option {
	return func(o *options) { o.janitor = d }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := options{janitor: DefaultJanitorInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{claims: cache.New(cache.NoExpiration, o.janitor)}
}

// Claim records eventID for ttl unless a live claim exists.
func (s *MemoryStore) Claim(_ context.Context, eventID, eventType string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ev := types.ProcessedEvent{
		EventID:   eventID,
		EventType: eventType,
		Status:    types.EventStatusProcessing,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	// Add fails only when an unexpired item is present.
	if err := s.claims.Add(eventID, ev, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// MarkFulfilled records the outbound request id on a live claim, keeping
// its original expiry.
func (s *MemoryStore) MarkFulfilled(_ context.Context, eventID, fulfillmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.claims.GetWithExpiration(eventID)
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundEvent, "event "+eventID+" is not claimed", nil)
	}
	ev := v.(types.ProcessedEvent)
	ev.Status = types.EventStatusFulfilled
	ev.FulfillmentID = fulfillmentID

	ttl := cache.NoExpiration
	if !exp.IsZero() {
		ttl = time.Until(exp)
		if ttl <= 0 {
			return types.NewAppError(types.ErrCodeNotFoundEvent, "event "+eventID+" is not claimed", nil)
		}
	}
	s.claims.Set(eventID, ev, ttl)
	return nil
}

// Release removes a claim. Releasing an unknown id is not an error.
func (s *MemoryStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.claims.Delete(eventID)
	return nil
}

// Get returns the live claim for eventID.
func (s *MemoryStore) Get(_ context.Context, eventID string) (*types.ProcessedEvent, error) {
	v, ok := s.claims.Get(eventID)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event "+eventID+" not found", nil)
	}
	ev := v.(types.ProcessedEvent)
	return &ev, nil
}

// PurgeExpired deletes expired claims and returns how many were removed.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ItemCount includes expired items that have not been swept yet.
	before := s.claims.ItemCount()
	s.claims.DeleteExpired()
	return int64(before - s.claims.ItemCount()), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

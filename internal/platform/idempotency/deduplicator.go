package idempotency

import (
	"context"
	"time"
)

const dedupFingerprint = "webhook-event"

// Deduplicator records webhook event ids on top of a Store so retried
// provider deliveries are applied once. The first call for a key reserves
// it and reports unseen; every later call reports seen until the TTL lapses.
type Deduplicator struct {
	store Store
	ttl   time.Duration
	clock func() time.Time
}

// NewDeduplicator wraps the store. A non-positive ttl falls back to DefaultTTL.
func NewDeduplicator(store Store, ttl time.Duration, clock func() time.Time) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Deduplicator{store: store, ttl: ttl, clock: clock}
}

// Seen reserves the key and reports whether it was already recorded.
func (d *Deduplicator) Seen(ctx context.Context, key string) (bool, error) {
	reservation, err := d.store.Reserve(ctx, key, dedupFingerprint, d.clock().UTC(), d.ttl)
	if err != nil {
		return false, err
	}
	return reservation.State != ReservationStateNew, nil
}

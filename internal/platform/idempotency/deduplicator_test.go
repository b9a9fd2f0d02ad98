package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestDeduplicatorSeen(t *testing.T) {
	now := time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)
	dedup := NewDeduplicator(NewMemoryStore(), time.Hour, func() time.Time { return now })

	seen, err := dedup.Seen(context.Background(), "mock:evt_1")
	if err != nil {
		t.Fatalf("first Seen: %v", err)
	}
	if seen {
		t.Fatal("first delivery should be unseen")
	}

	seen, err = dedup.Seen(context.Background(), "mock:evt_1")
	if err != nil {
		t.Fatalf("second Seen: %v", err)
	}
	if !seen {
		t.Fatal("second delivery should be seen")
	}

	seen, err = dedup.Seen(context.Background(), "mock:evt_2")
	if err != nil {
		t.Fatalf("other key Seen: %v", err)
	}
	if seen {
		t.Fatal("a different event id should be unseen")
	}
}

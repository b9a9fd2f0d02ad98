package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewDependencyHealthRepositoryValidation(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty probe set")
	}

	_, err := NewDependencyHealthRepository([]DependencyProbe{{Name: "  "}})
	if err == nil || !strings.Contains(err.Error(), "missing name") {
		t.Fatalf("expected missing name error, got %v", err)
	}

	_, err = NewDependencyHealthRepository([]DependencyProbe{{Name: "firestore"}})
	if err == nil || !strings.Contains(err.Error(), "missing check function") {
		t.Fatalf("expected missing check error, got %v", err)
	}
}

func TestDependencyHealthRepositoryPing(t *testing.T) {
	calls := make([]string, 0, 2)
	repo, err := NewDependencyHealthRepository([]DependencyProbe{
		{Name: "firestore", Check: func(context.Context) error {
			calls = append(calls, "firestore")
			return nil
		}},
		{Name: "pubsub", Check: func(context.Context) error {
			calls = append(calls, "pubsub")
			return nil
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected both probes to run, got %v", calls)
	}
}

func TestDependencyHealthRepositoryPingFailure(t *testing.T) {
	boom := errors.New("connection refused")
	repo, err := NewDependencyHealthRepository([]DependencyProbe{
		{Name: "firestore", Timeout: 50 * time.Millisecond, Check: func(context.Context) error {
			return boom
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pingErr := repo.Ping(context.Background())
	if pingErr == nil || !errors.Is(pingErr, boom) {
		t.Fatalf("expected wrapped probe error, got %v", pingErr)
	}
	if !strings.Contains(pingErr.Error(), "firestore") {
		t.Fatalf("expected dependency name in error, got %v", pingErr)
	}
}

package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/iho/kvledger/internal/domain"
)

func TestRetrierRetriesOptimisticLock(t *testing.T) {
	r := NewRetrier(5)
	r.initialInterval = 0

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return domain.ErrOptimisticLock
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrierRetriesTransient(t *testing.T) {
	r := NewRetrier(5)
	r.initialInterval = 0

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return Transient(errors.New("throttled"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetrierPermanentErrorStops(t *testing.T) {
	r := NewRetrier(5)
	r.initialInterval = 0

	boom := errors.New("boom")
	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Retry = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent errors)", calls)
	}
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	r := NewRetrier(3)
	r.initialInterval = 0

	retries := 0
	r.OnRetry(func() { retries++ })

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return domain.ErrOptimisticLock
	})
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Fatalf("Retry = %v, want ErrOptimisticLock", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if retries != 2 {
		t.Errorf("retry callbacks = %d, want 2", retries)
	}
}

func TestRetrierHonorsContext(t *testing.T) {
	r := NewRetrier(100)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Retry(ctx, func() error {
		calls++
		cancel()
		return domain.ErrOptimisticLock
	})
	if err == nil {
		t.Fatal("Retry succeeded after context cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

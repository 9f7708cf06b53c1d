package kv

import (
	"context"
	"errors"
	"time"
)

// TimeoutStore decorates a Store with a per-call deadline. A call that runs
// out of time surfaces as TransientError, so the retrier treats a slow
// backend like any other retryable fault.
type TimeoutStore struct {
	store   Store
	timeout time.Duration
}

// WithTimeout wraps store so every call carries its own deadline. A
// non-positive timeout returns the store unwrapped.
func WithTimeout(store Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return store
	}
	return &TimeoutStore{store: store, timeout: timeout}
}

func (s *TimeoutStore) GetItem(ctx context.Context, pk, sk string) (Record, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.store.GetItem(opCtx, pk, sk)
	return rec, s.classify(ctx, err)
}

func (s *TimeoutStore) BatchGet(ctx context.Context, keys []Key) (map[Key]Record, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.store.BatchGet(opCtx, keys)
	return out, s.classify(ctx, err)
}

func (s *TimeoutStore) Query(ctx context.Context, in QueryInput) (Page, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	page, err := s.store.Query(opCtx, in)
	return page, s.classify(ctx, err)
}

func (s *TimeoutStore) QueryIndex(ctx context.Context, index string, in QueryInput) (Page, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	page, err := s.store.QueryIndex(opCtx, index, in)
	return page, s.classify(ctx, err)
}

func (s *TimeoutStore) TransactWrite(ctx context.Context, ops []Op) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.classify(ctx, s.store.TransactWrite(opCtx, ops))
}

func (s *TimeoutStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.classify(ctx, s.store.Ping(opCtx))
}

// classify marks errors caused by an expired per-call deadline as transient.
// When the caller's own context is already dead, the error passes through:
// retrying inside a cancelled request would be wasted work.
func (s *TimeoutStore) classify(parent context.Context, err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return Transient(err)
	}
	return err
}

package kv

import (
	"context"
	"errors"
	"time"
)

// Observer receives one event per storage call. Implemented by the metrics
// registry; kept as an interface so this package stays free of the metrics
// dependency.
type Observer interface {
	ObserveStorageOp(backend, op string, duration time.Duration, err error)
}

// InstrumentedStore decorates a Store with per-op observations.
type InstrumentedStore struct {
	store    Store
	backend  string
	observer Observer
}

// Instrument wraps store so every call is reported to observer under the
// given backend label. A nil observer returns the store unwrapped.
func Instrument(store Store, backend string, observer Observer) Store {
	if observer == nil {
		return store
	}
	return &InstrumentedStore{store: store, backend: backend, observer: observer}
}

func (s *InstrumentedStore) GetItem(ctx context.Context, pk, sk string) (Record, error) {
	start := time.Now()
	rec, err := s.store.GetItem(ctx, pk, sk)
	s.observer.ObserveStorageOp(s.backend, "GetItem", time.Since(start), ignoreNotFound(err))
	return rec, err
}

func (s *InstrumentedStore) BatchGet(ctx context.Context, keys []Key) (map[Key]Record, error) {
	start := time.Now()
	out, err := s.store.BatchGet(ctx, keys)
	s.observer.ObserveStorageOp(s.backend, "BatchGet", time.Since(start), err)
	return out, err
}

func (s *InstrumentedStore) Query(ctx context.Context, in QueryInput) (Page, error) {
	start := time.Now()
	page, err := s.store.Query(ctx, in)
	s.observer.ObserveStorageOp(s.backend, "Query", time.Since(start), err)
	return page, err
}

func (s *InstrumentedStore) QueryIndex(ctx context.Context, index string, in QueryInput) (Page, error) {
	start := time.Now()
	page, err := s.store.QueryIndex(ctx, index, in)
	s.observer.ObserveStorageOp(s.backend, "QueryIndex", time.Since(start), err)
	return page, err
}

func (s *InstrumentedStore) TransactWrite(ctx context.Context, ops []Op) error {
	start := time.Now()
	err := s.store.TransactWrite(ctx, ops)
	s.observer.ObserveStorageOp(s.backend, "TransactWrite", time.Since(start), err)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.store.Ping(ctx)
	s.observer.ObserveStorageOp(s.backend, "Ping", time.Since(start), err)
	return err
}

// ignoreNotFound keeps routine missing-item reads out of the error counter.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

package journal

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/hotword/internal/resilience"
)

// FailoverStore writes to the first healthy store of an ordered list. Each
// store sits behind a circuit breaker, so a primary that keeps failing is
// skipped until its breaker lets a probe through.
//
// Reads follow the same order, which means that while the primary is down
// Recent only sees what the fallbacks recorded.
type FailoverStore struct {
	group *resilience.Failover[Store]
}

var _ Store = (*FailoverStore)(nil)

// NamedStore pairs a store with the name used in logs and breaker state.
type NamedStore struct {
	Name  string
	Store Store
}

// NewFailoverStore returns a store that prefers primary and falls back to
// fallbacks in order.
func NewFailoverStore(primary NamedStore, fallbacks ...NamedStore) *FailoverStore {
	g := resilience.NewFailover(resilience.BreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
	}, primary.Name, primary.Store)
	for _, f := range fallbacks {
		g.Add(f.Name, f.Store)
	}
	return &FailoverStore{group: g}
}

// Record implements [Store].
func (s *FailoverStore) Record(ctx context.Context, e Entry) error {
	return s.group.Do(ctx, func(ctx context.Context, st Store) error {
		return st.Record(ctx, e)
	})
}

// Recent implements [Store].
func (s *FailoverStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return resilience.Call(ctx, s.group, func(ctx context.Context, st Store) ([]Entry, error) {
		return st.Recent(ctx, limit)
	})
}

// Ping succeeds when at least one store is reachable.
func (s *FailoverStore) Ping(ctx context.Context) error {
	var (
		errs []error
		ok   bool
	)
	_ = s.group.Each(func(name string, st Store) error {
		if err := st.Ping(ctx); err != nil {
			errs = append(errs, err)
			return nil
		}
		ok = true
		return nil
	})
	if ok {
		return nil
	}
	return errors.Join(errs...)
}

// Close closes every store.
func (s *FailoverStore) Close() error {
	return s.group.Each(func(_ string, st Store) error { return st.Close() })
}

// States reports the breaker state of each store.
func (s *FailoverStore) States() map[string]resilience.State {
	return s.group.States()
}

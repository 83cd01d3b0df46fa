package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Failover] accepted a call.
var ErrAllFailed = errors.New("resilience: all members failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds interchangeable values, each behind its own [Breaker], and
// routes calls to the first one that succeeds. Members are tried in the
// order they were added.
type Failover[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewFailover returns a Failover with primary as its first member. cfg is
// the template for every member's breaker; its Name is replaced by the
// member name.
func NewFailover[T any](cfg BreakerConfig, name string, primary T) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(name, primary)
	return f
}

// Add appends a fallback member. Not safe to call concurrently with
// [Failover.Do].
func (f *Failover[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.members = append(f.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Do calls fn with each member in turn until one returns nil. Members with
// an open breaker are skipped. When every member fails the error wraps
// [ErrAllFailed] and the last member error.
func (f *Failover[T]) Do(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Call(ctx, f, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Call is [Failover.Do] for functions that return a value.
func Call[T, R any](ctx context.Context, f *Failover[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, m := range f.members {
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("served by fallback", "member", m.name)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping member with open circuit", "member", m.name)
			continue
		}
		slog.Warn("member failed, trying next", "member", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// States returns the breaker state of each member, keyed by name.
func (f *Failover[T]) States() map[string]State {
	out := make(map[string]State, len(f.members))
	for _, m := range f.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Each calls fn for every member in order, regardless of breaker state, and
// joins the errors. Used for fan-out operations such as closing.
func (f *Failover[T]) Each(fn func(name string, v T) error) error {
	var errs []error
	for _, m := range f.members {
		if err := fn(m.name, m.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		}
	}
	return errors.Join(errs...)
}

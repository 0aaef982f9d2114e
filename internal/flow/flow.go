// Package flow composes asynchronous operations into series, parallel and
// settle control flow. It knows nothing about tasks or registries; the
// scheduler compiles resolved steps into Operations and hands them here.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Operation is one unit of composable work. It blocks until the work has
// completed and reports failure through its return value.
type Operation func(ctx context.Context) error

// Policy governs ordering and error short-circuiting of a composed list.
type Policy string

const (
	Series         Policy = "series"
	Parallel       Policy = "parallel"
	SettleSeries   Policy = "settleSeries"
	SettleParallel Policy = "settleParallel"
)

// ErrEmpty is returned when composing zero operations.
var ErrEmpty = errors.New("flow: expected at least one operation")

// ErrUnknownPolicy is returned for a policy name that is not one of the four policies.
var ErrUnknownPolicy = errors.New("flow: unknown policy")

// ParsePolicy converts a policy name. The empty string maps to Series.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "":
		return Series, nil
	case Series, Parallel, SettleSeries, SettleParallel:
		return Policy(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// Valid reports whether p is one of the four known policies.
func (p Policy) Valid() bool {
	switch p {
	case Series, Parallel, SettleSeries, SettleParallel:
		return true
	}
	return false
}

// SettleError aggregates every failure observed by a settle policy.
// Errors are kept in operation order, not completion order.
type SettleError struct {
	Errors []error
	Total  int
}

func (e *SettleError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("flow: 1 of %d operations failed: %v", e.Total, e.Errors[0])
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("flow: %d of %d operations failed: %s", len(e.Errors), e.Total, strings.Join(msgs, "; "))
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e *SettleError) Unwrap() []error {
	return e.Errors
}

// Compose wraps ops with the given policy. A single operation is returned
// unchanged. limit bounds the number of concurrently running operations for
// the concurrent policies; zero or negative means unbounded.
func Compose(policy Policy, limit int, ops ...Operation) (Operation, error) {
	if len(ops) == 0 {
		return nil, ErrEmpty
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	if len(ops) == 1 {
		return ops[0], nil
	}
	switch policy {
	case Parallel:
		return parallel(limit, ops), nil
	case SettleSeries:
		return settleSeries(ops), nil
	case SettleParallel:
		return settleParallel(limit, ops), nil
	default:
		return series(ops), nil
	}
}

// MustCompose is Compose for callers that already guarantee a non-empty list
// and a valid policy.
func MustCompose(policy Policy, limit int, ops ...Operation) Operation {
	op, err := Compose(policy, limit, ops...)
	if err != nil {
		panic(err)
	}
	return op
}

// series runs ops one after another and stops at the first error.
func series(ops []Operation) Operation {
	return func(ctx context.Context) error {
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := op(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// settleSeries runs every op in order and reports all failures at the end.
func settleSeries(ops []Operation) Operation {
	return func(ctx context.Context) error {
		var errs []error
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := op(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return &SettleError{Errors: errs, Total: len(ops)}
		}
		return nil
	}
}

// parallel starts every op and returns as soon as one fails or all succeed.
// Operations already running after the first failure are left to finish in
// the background; their results are dropped.
func parallel(limit int, ops []Operation) Operation {
	return func(ctx context.Context) error {
		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}

		var failed atomic.Bool
		errCh := make(chan error, len(ops))
		done := make(chan struct{})

		go func() {
			defer close(done)
			for _, op := range ops {
				if failed.Load() {
					break
				}
				op := op
				g.Go(func() error {
					if err := op(ctx); err != nil {
						failed.Store(true)
						errCh <- err
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		select {
		case err := <-errCh:
			return err
		case <-done:
			// A failure can race with the final Wait.
			select {
			case err := <-errCh:
				return err
			default:
				return nil
			}
		}
	}
}

// settleParallel starts every op, waits for all of them and reports every failure.
func settleParallel(limit int, ops []Operation) Operation {
	return func(ctx context.Context) error {
		var g errgroup.Group
		if limit > 0 {
			g.SetLimit(limit)
		}

		var mu sync.Mutex
		errs := make([]error, len(ops))
		for i, op := range ops {
			i, op := i, op
			g.Go(func() error {
				if err := op(ctx); err != nil {
					mu.Lock()
					errs[i] = err
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		var collected []error
		for _, err := range errs {
			if err != nil {
				collected = append(collected, err)
			}
		}
		if len(collected) > 0 {
			return &SettleError{Errors: collected, Total: len(ops)}
		}
		return nil
	}
}

package journal

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aristath/composer/internal/events"
)

// RetryConfig configures the backoff used when the database is busy.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the retry configuration used by Follow.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  5 * time.Second,
	}
}

// Writer records events into a Store. Busy or locked databases are retried
// with exponential backoff, and after repeated failures the circuit opens and
// events are dropped until the timeout elapses.
type Writer struct {
	store  Store
	retry  RetryConfig
	cb     *gobreaker.CircuitBreaker
	logger *log.Logger
}

// NewWriter wraps store. A nil logger uses the standard logger.
func NewWriter(store Store, retry RetryConfig, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.Default()
	}
	w := &Writer{store: store, retry: retry, logger: logger}
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Printf("WARNING: %s: circuit %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return w
}

// State reports the circuit breaker state.
func (w *Writer) State() gobreaker.State {
	return w.cb.State()
}

// Write records ev. Events the journal does not track are ignored.
func (w *Writer) Write(ctx context.Context, ev events.Event) error {
	if !tracked(ev) {
		return nil
	}

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := w.cb.Execute(func() (interface{}, error) {
			return nil, Record(ctx, w.store, ev)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil || !busy(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retry.InitialInterval
	policy.MaxInterval = w.retry.MaxInterval
	policy.MaxElapsedTime = w.retry.MaxElapsedTime

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func tracked(ev events.Event) bool {
	switch ev.(type) {
	case events.RunStartedEvent, events.RunFinishedEvent,
		events.TaskStartingEvent, events.TaskFinishedEvent, events.TaskErrorEvent:
		return true
	}
	return false
}

// busy reports whether err is a SQLite busy or locked result.
func busy(err error) bool {
	var coded interface{ Code() int }
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

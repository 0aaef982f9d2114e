package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects operation names in the order they complete.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func delayed(r *recorder, name string, d time.Duration, err error) Operation {
	return func(ctx context.Context) error {
		time.Sleep(d)
		r.add(name)
		return err
	}
}

// barrier releases every caller once n of them have arrived. wait reports
// false when the others did not arrive in time.
type barrier struct {
	n       int32
	arrived atomic.Int32
	ready   chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: int32(n), ready: make(chan struct{})}
}

func (b *barrier) wait() bool {
	if b.arrived.Add(1) == b.n {
		close(b.ready)
	}
	select {
	case <-b.ready:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "", want: Series},
		{in: "series", want: Series},
		{in: "parallel", want: Parallel},
		{in: "settleSeries", want: SettleSeries},
		{in: "settleParallel", want: SettleParallel},
		{in: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPolicy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompose_Empty(t *testing.T) {
	for _, p := range []Policy{Series, Parallel, SettleSeries, SettleParallel} {
		_, err := Compose(p, 0)
		assert.ErrorIs(t, err, ErrEmpty, "policy %s", p)
	}
}

func TestCompose_UnknownPolicy(t *testing.T) {
	_, err := Compose("sideways", 0, func(context.Context) error { return nil }, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestCompose_SingleShortCircuits(t *testing.T) {
	sentinel := errors.New("only")
	op := func(context.Context) error { return sentinel }
	composed, err := Compose(Parallel, 0, op)
	require.NoError(t, err)
	assert.ErrorIs(t, composed(context.Background()), sentinel)
}

func TestSeries_OrderIndependentOfDuration(t *testing.T) {
	r := &recorder{}
	op := MustCompose(Series, 0,
		delayed(r, "a", 20*time.Millisecond, nil),
		delayed(r, "b", 0, nil),
		delayed(r, "c", 10*time.Millisecond, nil),
	)
	require.NoError(t, op(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, r.list())
}

func TestSeries_StopsAtFirstError(t *testing.T) {
	r := &recorder{}
	boom := errors.New("boom")
	op := MustCompose(Series, 0,
		delayed(r, "a", 0, nil),
		delayed(r, "b", 0, boom),
		delayed(r, "c", 0, nil),
	)
	assert.ErrorIs(t, op(context.Background()), boom)
	assert.Equal(t, []string{"a", "b"}, r.list())
}

func TestSeries_StopsOnCancelledContext(t *testing.T) {
	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	op := MustCompose(Series, 0,
		func(context.Context) error { r.add("a"); cancel(); return nil },
		delayed(r, "b", 0, nil),
	)
	assert.ErrorIs(t, op(ctx), context.Canceled)
	assert.Equal(t, []string{"a"}, r.list())
}

func TestParallel_CompletesInDelayOrder(t *testing.T) {
	r := &recorder{}
	b := newBarrier(5)
	op := func(name string, d time.Duration) Operation {
		return func(context.Context) error {
			if !b.wait() {
				return errors.New("not all operations were started")
			}
			time.Sleep(d)
			r.add(name)
			return nil
		}
	}
	all := MustCompose(Parallel, 0,
		op("100", 100*time.Millisecond),
		op("75", 75*time.Millisecond),
		op("50", 50*time.Millisecond),
		op("25", 25*time.Millisecond),
		op("0", 0),
	)
	require.NoError(t, all(context.Background()))
	assert.Equal(t, []string{"0", "25", "50", "75", "100"}, r.list())
}

func TestParallel_StartsAllBeforeAwaiting(t *testing.T) {
	var started atomic.Int32
	gate := make(chan struct{})
	block := func(context.Context) error {
		if started.Add(1) == 3 {
			close(gate)
		}
		select {
		case <-gate:
			return nil
		case <-time.After(time.Second):
			return errors.New("not all operations were started")
		}
	}
	op := MustCompose(Parallel, 0, block, block, block)
	require.NoError(t, op(context.Background()))
	assert.Equal(t, int32(3), started.Load())
}

func TestParallel_ReportsFirstErrorWithoutWaiting(t *testing.T) {
	r := &recorder{}
	boom := errors.New("bar error")
	slowDone := make(chan struct{})
	op := MustCompose(Parallel, 0,
		func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			r.add("slow")
			close(slowDone)
			return nil
		},
		func(context.Context) error { return boom },
	)

	start := time.Now()
	err := op(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, time.Since(start) < 40*time.Millisecond, "first error must be reported immediately")
	assert.Empty(t, r.list(), "slow operation must not have completed yet")

	// The slow sibling still runs to completion in the background.
	select {
	case <-slowDone:
	case <-time.After(time.Second):
		t.Fatal("background operation was not allowed to finish")
	}
}

func TestParallel_LimitStopsLaunchingAfterFailure(t *testing.T) {
	var launched atomic.Int32
	boom := errors.New("boom")
	op := MustCompose(Parallel, 1,
		func(context.Context) error { launched.Add(1); return boom },
		func(context.Context) error { launched.Add(1); return nil },
		func(context.Context) error { launched.Add(1); return nil },
	)
	assert.ErrorIs(t, op(context.Background()), boom)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, launched.Load() <= 2, "launched %d operations after failure", launched.Load())
}

func TestSettleSeries_RunsEverything(t *testing.T) {
	r := &recorder{}
	first := errors.New("first")
	second := errors.New("second")
	op := MustCompose(SettleSeries, 0,
		delayed(r, "a", 0, first),
		delayed(r, "b", 0, nil),
		delayed(r, "c", 0, second),
	)
	err := op(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, r.list())

	var settle *SettleError
	require.ErrorAs(t, err, &settle)
	assert.Equal(t, 3, settle.Total)
	assert.Equal(t, []error{first, second}, settle.Errors)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestSettleParallel_RunsEverythingAndKeepsStepOrder(t *testing.T) {
	r := &recorder{}
	slow := errors.New("slow")
	fast := errors.New("fast")
	op := MustCompose(SettleParallel, 0,
		delayed(r, "slow", 20*time.Millisecond, slow),
		delayed(r, "ok", 10*time.Millisecond, nil),
		delayed(r, "fast", 0, fast),
	)
	err := op(context.Background())

	var settle *SettleError
	require.ErrorAs(t, err, &settle)
	assert.Equal(t, []error{slow, fast}, settle.Errors)
	assert.ElementsMatch(t, []string{"slow", "ok", "fast"}, r.list())
	assert.Contains(t, err.Error(), "2 of 3")
}

func TestSettle_SucceedsWhenNothingFails(t *testing.T) {
	for _, p := range []Policy{SettleSeries, SettleParallel} {
		r := &recorder{}
		op := MustCompose(p, 0, delayed(r, "a", 0, nil), delayed(r, "b", 0, nil))
		assert.NoError(t, op(context.Background()), "policy %s", p)
		assert.Len(t, r.list(), 2)
	}
}

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/composer/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWatcher hands out one channel per pattern and lets the test drive it.
type fakeWatcher struct {
	mu    sync.Mutex
	chans map[string]chan Notification
	err   error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{chans: make(map[string]chan Notification)}
}

func (w *fakeWatcher) Watch(ctx context.Context, pattern string) (<-chan Notification, error) {
	if w.err != nil {
		return nil, w.err
	}
	ch := make(chan Notification)
	w.mu.Lock()
	w.chans[pattern] = ch
	w.mu.Unlock()
	return ch, nil
}

func (w *fakeWatcher) send(t *testing.T, pattern string, n Notification) {
	t.Helper()
	w.mu.Lock()
	ch := w.chans[pattern]
	w.mu.Unlock()
	require.NotNil(t, ch, "no watch registered for %s", pattern)
	select {
	case ch <- n:
	case <-time.After(time.Second):
		t.Fatalf("notification for %s was not consumed", pattern)
	}
}

func change(paths ...string) Notification {
	return Notification{Kind: NotifyChange, Paths: paths}
}

func TestWatch_ReadyDoesNotTrigger(t *testing.T) {
	w := newFakeWatcher()
	c, _ := newTestComposer(t, Config{Watcher: w})
	var runs atomic.Int32
	require.NoError(t, c.Register("a", func() { runs.Add(1) }))

	trig, err := c.AddWatch("src/**", "a")
	require.NoError(t, err)

	w.send(t, "src/**", change("src/early.go")) // before ready: ignored
	w.send(t, "src/**", Notification{Kind: NotifyReady})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	w.send(t, "src/**", change("src/main.go"))
	assert.Eventually(t, func() bool { return trig.Runs() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestWatch_CoalescesChangesWhileRunning(t *testing.T) {
	w := newFakeWatcher()
	c, log := newTestComposer(t, Config{Watcher: w})

	var runs atomic.Int32
	gate := make(chan struct{})
	require.NoError(t, c.Register("a", func() {
		if runs.Add(1) == 1 {
			<-gate
		}
	}))

	trig, err := c.AddWatch("*.go", "a")
	require.NoError(t, err)
	w.send(t, "*.go", Notification{Kind: NotifyReady})

	w.send(t, "*.go", change("a.go"))
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, trig.Running())

	// Two more batches while the first run is still executing.
	w.send(t, "*.go", change("b.go"))
	w.send(t, "*.go", change("c.go"))
	assert.Eventually(t, func() bool {
		trig.mu.Lock()
		defer trig.mu.Unlock()
		return trig.coalesced == 2
	}, time.Second, time.Millisecond)
	close(gate)

	assert.Eventually(t, func() bool { return trig.Runs() == 2 && !trig.Running() }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load(), "exactly one coalesced follow-up run")

	var triggered []events.WatchTriggeredEvent
	for _, e := range log.all() {
		if wt, ok := e.(events.WatchTriggeredEvent); ok {
			triggered = append(triggered, wt)
		}
	}
	require.Len(t, triggered, 2)
	assert.Equal(t, []string{"a.go"}, triggered[0].Paths)
	assert.Equal(t, []string{"b.go", "c.go"}, triggered[1].Paths)
	assert.Equal(t, 2, triggered[1].Coalesced)
	assert.Equal(t, []string{"a"}, triggered[1].Tasks)
}

func TestWatch_RunsAgainAfterCompletion(t *testing.T) {
	w := newFakeWatcher()
	c, _ := newTestComposer(t, Config{Watcher: w})
	var runs atomic.Int32
	require.NoError(t, c.Register("a", func() { runs.Add(1) }))

	trig, err := c.AddWatch("*", "a")
	require.NoError(t, err)
	w.send(t, "*", Notification{Kind: NotifyReady})

	for i := 1; i <= 3; i++ {
		w.send(t, "*", change("f"))
		want := i
		assert.Eventually(t, func() bool { return trig.Runs() == want && !trig.Running() }, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestWatch_ErrorsAreLoggedNotPropagated(t *testing.T) {
	w := newFakeWatcher()
	var buf safeBuffer
	c, evs := newTestComposer(t, Config{Watcher: w, Logger: log.New(&buf, "", 0)})
	require.NoError(t, c.Register("a", func() error { return errors.New("compile failed") }))

	trig, err := c.AddWatch("*.go", "a")
	require.NoError(t, err)
	w.send(t, "*.go", Notification{Kind: NotifyReady})
	w.send(t, "*.go", change("main.go"))

	assert.Eventually(t, func() bool { return trig.Runs() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, buf.String(), "ERROR: watch \"*.go\"")
	assert.Contains(t, buf.String(), "compile failed")

	assert.Eventually(t, func() bool {
		for _, e := range evs.all() {
			if ee, ok := e.(events.ErrorEvent); ok && ee.Source == "run" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// The watch keeps working after a failed run.
	w.send(t, "*.go", change("main.go"))
	assert.Eventually(t, func() bool { return trig.Runs() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatch_SetupErrors(t *testing.T) {
	c, evs := newTestComposer(t, Config{Logger: log.New(&bytes.Buffer{}, "", 0)})
	_, err := c.AddWatch("*", "a")
	assert.ErrorIs(t, err, ErrNoWatcher)

	// Watch only logs and publishes, and still chains.
	assert.Same(t, c, c.Watch("*", "a"))
	var sawError bool
	for _, e := range evs.all() {
		if ee, ok := e.(events.ErrorEvent); ok && errors.Is(ee.Err, ErrNoWatcher) {
			sawError = true
		}
	}
	assert.True(t, sawError)

	w := newFakeWatcher()
	c2, _ := newTestComposer(t, Config{Watcher: w})
	_, err = c2.AddWatch("*")
	assert.ErrorIs(t, err, ErrNoTasks)
	_, err = c2.AddWatch("*", 7)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	w.err = errors.New("too many open files")
	_, err = c2.AddWatch("*", "a")
	assert.EqualError(t, err, "too many open files")
}

func TestWatch_CloseStopsTriggers(t *testing.T) {
	w := newFakeWatcher()
	c := New(Config{Watcher: w})
	var runs atomic.Int32
	require.NoError(t, c.Register("a", func() { runs.Add(1) }))

	trig, err := c.AddWatch("*", "a")
	require.NoError(t, err)
	w.send(t, "*", Notification{Kind: NotifyReady})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")

	select {
	case <-trig.done:
	default:
		t.Fatal("trigger loop still running after Close")
	}
	_, err = c.AddWatch("*", "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(0), runs.Load())
}

// safeBuffer is a bytes.Buffer safe for the logger and the test to share.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

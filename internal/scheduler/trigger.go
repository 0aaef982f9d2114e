package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/composer/internal/events"
	"github.com/aristath/composer/internal/flow"
)

// NotificationKind distinguishes the watcher's readiness signal from changes.
type NotificationKind int

const (
	// NotifyReady is sent once the initial scan is complete.
	NotifyReady NotificationKind = iota
	// NotifyChange carries a batch of changed paths.
	NotifyChange
)

// Notification is one message from a Watcher.
type Notification struct {
	Kind  NotificationKind
	Paths []string
}

// Watcher delivers change notifications for a path pattern until ctx is
// cancelled, then closes the channel.
type Watcher interface {
	Watch(ctx context.Context, pattern string) (<-chan Notification, error)
}

// Trigger re-runs a fixed set of tasks on change notifications. At most one
// triggered run is in flight; changes seen meanwhile are coalesced into a
// single follow-up run.
type Trigger struct {
	composer *Composer
	pattern  string
	req      runRequest
	policy   flow.Policy
	names    []string

	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	ready        bool
	running      bool
	pending      bool
	pendingPaths []string
	coalesced    int
	runs         int
}

// AddWatch registers a watch and returns its trigger.
func (c *Composer) AddWatch(pattern string, args ...any) (*Trigger, error) {
	if c.watcher == nil {
		return nil, ErrNoWatcher
	}
	req, err := parseRun(args)
	if err != nil {
		return nil, err
	}
	if len(req.refs) == 0 {
		return nil, ErrNoTasks
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(c.ctx)
	notifications, err := c.watcher.Watch(ctx, pattern)
	if err != nil {
		cancel()
		return nil, err
	}

	names := make([]string, 0, len(req.refs))
	for _, ref := range req.refs {
		names = append(names, ref.String())
	}
	t := &Trigger{
		composer: c,
		pattern:  pattern,
		req:      req,
		policy:   c.policyFor(req),
		names:    names,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.triggers = append(c.triggers, t)

	go t.loop(ctx, notifications)
	return t, nil
}

// Pattern returns the watched pattern.
func (t *Trigger) Pattern() string { return t.pattern }

// Runs returns the number of triggered runs that have completed.
func (t *Trigger) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Running reports whether a triggered run is in flight.
func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stop stops watching and waits for the notification loop to exit. A run in
// flight sees its context cancelled but is not waited for.
func (t *Trigger) Stop() {
	t.cancel()
	<-t.done
}

func (t *Trigger) loop(ctx context.Context, notifications <-chan Notification) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			t.notify(ctx, n)
		}
	}
}

func (t *Trigger) notify(ctx context.Context, n Notification) {
	t.mu.Lock()
	switch {
	case n.Kind == NotifyReady:
		t.ready = true
		t.mu.Unlock()
		return
	case !t.ready:
		// Changes reported during the initial scan are ignored.
		t.mu.Unlock()
		return
	case t.running:
		t.pending = true
		t.pendingPaths = append(t.pendingPaths, n.Paths...)
		t.coalesced++
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	t.dispatch(ctx, n.Paths, 0)
}

// dispatch starts a run. The caller must have set running.
func (t *Trigger) dispatch(ctx context.Context, paths []string, coalesced int) {
	c := t.composer
	c.publish(events.TopicWatch, events.WatchTriggeredEvent{
		Pattern:   t.pattern,
		Paths:     paths,
		Tasks:     t.names,
		Coalesced: coalesced,
		Timestamp: time.Now(),
	})

	run := c.execute(ctx, t.policy, t.req)
	go func() {
		<-run.Done()
		t.complete(ctx, run)
	}()
}

// complete clears running, or starts the coalesced follow-up if changes
// arrived while the run was in flight.
func (t *Trigger) complete(ctx context.Context, run *Run) {
	if err := run.Err(); err != nil {
		t.composer.logger.Printf("ERROR: watch %q: %v", t.pattern, err)
	}

	t.mu.Lock()
	t.runs++
	if !t.pending || ctx.Err() != nil {
		t.pending = false
		t.pendingPaths = nil
		t.coalesced = 0
		t.running = false
		t.mu.Unlock()
		return
	}
	paths := t.pendingPaths
	coalesced := t.coalesced
	t.pending = false
	t.pendingPaths = nil
	t.coalesced = 0
	t.mu.Unlock()

	t.dispatch(ctx, paths, coalesced)
}

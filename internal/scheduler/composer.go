// Package scheduler registers tasks, resolves their dependencies into plans
// and runs those plans with series, parallel and settle semantics.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aristath/composer/internal/events"
	"github.com/aristath/composer/internal/flow"
)

// Config configures a Composer.
type Config struct {
	// Publisher receives lifecycle events. Defaults to events.Discard.
	Publisher events.Publisher
	// Watcher backs Watch and AddWatch. Watches fail without one.
	Watcher Watcher
	// ConcurrencyLimit bounds each parallel group. Zero means unbounded.
	ConcurrencyLimit int
	// DefaultFlow is the top-level policy when a run call carries no
	// options. Defaults to series.
	DefaultFlow flow.Policy
	// Logger receives trigger errors. Defaults to log.Default().
	Logger *log.Logger
}

// Composer is a task registry together with the engine that runs it.
type Composer struct {
	registry    *Registry
	resolver    *Resolver
	publisher   events.Publisher
	watcher     Watcher
	limit       int
	defaultFlow flow.Policy
	logger      *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	triggers []*Trigger
	closed   bool
}

// New creates a Composer.
func New(cfg Config) *Composer {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if !cfg.DefaultFlow.Valid() {
		cfg.DefaultFlow = flow.Series
	}
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	return &Composer{
		registry:    registry,
		resolver:    NewResolver(registry),
		publisher:   cfg.Publisher,
		watcher:     cfg.Watcher,
		limit:       cfg.ConcurrencyLimit,
		defaultFlow: cfg.DefaultFlow,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Registry returns the composer's task registry.
func (c *Composer) Registry() *Registry {
	return c.registry
}

// Register adds a task. Arguments are an optional leading Options or
// map[string]any, any number of dependencies (names, []string, Ref, inline
// functions, Task definitions) and an optional trailing body. Options.Deps are
// appended after positional dependencies. Registering an existing name
// replaces the earlier task.
//
//	c.Register("build", "clean", "generate", buildFn)
//	c.Register("assets", map[string]any{"flow": "parallel"}, "css", "js")
func (c *Composer) Register(name string, args ...any) error {
	task, err := parseTask(name, args)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	return c.registry.Add(task)
}

// Add registers a fully built task.
func (c *Composer) Add(task Task) error {
	return c.registry.Add(task)
}

// Start begins a run of the given tasks and returns immediately. Arguments
// are references as accepted by Register, plus at most one options bag whose
// Flow selects the top-level policy. Invalid arguments and resolution
// failures are reported through the returned Run without starting any task.
func (c *Composer) Start(ctx context.Context, args ...any) *Run {
	req, err := parseRun(args)
	if err != nil {
		run := newRun(nil, c.defaultFlow)
		run.finish(err)
		return run
	}
	return c.execute(ctx, c.policyFor(req), req)
}

// Run runs the given tasks and blocks until they complete.
func (c *Composer) Run(ctx context.Context, args ...any) error {
	return c.Start(ctx, args...).Wait()
}

// RunCallback runs the given tasks and calls done with the result. done is
// always called from another goroutine, even for resolution failures.
func (c *Composer) RunCallback(ctx context.Context, done func(error), args ...any) {
	run := c.Start(ctx, args...)
	go func() {
		err := run.Wait()
		if done != nil {
			done(err)
		}
	}()
}

// Invoke accepts either calling convention. When the last argument is a
// func(error) it is used as the completion callback and Invoke returns
// (nil, nil). Otherwise every argument must be a reference or options bag;
// anything else is returned as an InvalidArgumentError without starting a run.
func (c *Composer) Invoke(ctx context.Context, args ...any) (*Run, error) {
	if n := len(args); n > 0 {
		if done, ok := args[n-1].(func(error)); ok {
			c.RunCallback(ctx, done, args[:n-1]...)
			return nil, nil
		}
	}
	req, err := parseRun(args)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, c.policyFor(req), req), nil
}

// Plan resolves the given tasks without running them and returns the
// flattened steps.
func (c *Composer) Plan(args ...any) ([]*Step, error) {
	req, err := parseRun(args)
	if err != nil {
		return nil, err
	}
	if len(req.refs) == 0 {
		return nil, ErrNoTasks
	}
	steps, err := c.resolver.Resolve(req.refs, req.options.Values)
	if err != nil {
		return nil, err
	}
	return Flatten(steps), nil
}

// Series returns a body that runs the given tasks one after another.
func (c *Composer) Series(args ...any) TaskFunc {
	return c.Flow(flow.Series, args...)
}

// Parallel returns a body that runs the given tasks concurrently.
func (c *Composer) Parallel(args ...any) TaskFunc {
	return c.Flow(flow.Parallel, args...)
}

// SettleSeries returns a body that runs every given task in order, then
// reports all failures.
func (c *Composer) SettleSeries(args ...any) TaskFunc {
	return c.Flow(flow.SettleSeries, args...)
}

// SettleParallel returns a body that runs every given task concurrently,
// then reports all failures.
func (c *Composer) SettleParallel(args ...any) TaskFunc {
	return c.Flow(flow.SettleParallel, args...)
}

// Flow returns a body that runs the given tasks with policy. References are
// resolved each time the body runs, so it may name tasks registered later.
// Options of the invoking run context are inherited and overridden by an
// options bag in args.
func (c *Composer) Flow(policy flow.Policy, args ...any) TaskFunc {
	req, parseErr := parseRun(args)
	return func(ctx context.Context, rc *RunContext) error {
		if parseErr != nil {
			return parseErr
		}
		call := req
		if rc != nil {
			call.options.Values = mergeValues(rc.Options, req.options.Values)
		}
		return c.execute(ctx, policy, call).Wait()
	}
}

// Watch runs the given tasks whenever files matching pattern change and
// returns c for chaining. Setup failures are logged and published as error
// events; use AddWatch to handle them directly.
func (c *Composer) Watch(pattern string, args ...any) *Composer {
	if _, err := c.AddWatch(pattern, args...); err != nil {
		c.logger.Printf("ERROR: watch %q: %v", pattern, err)
		c.publish(events.TopicError, events.ErrorEvent{
			Source:    "watch " + pattern,
			Err:       err,
			Timestamp: time.Now(),
		})
	}
	return c
}

// Close stops every watch. Runs already in flight see their context
// cancelled. Close is idempotent.
func (c *Composer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	triggers := c.triggers
	c.triggers = nil
	c.mu.Unlock()

	c.cancel()
	for _, t := range triggers {
		t.Stop()
	}
	return nil
}

func (c *Composer) policyFor(req runRequest) flow.Policy {
	if req.hasOpts && req.options.Flow != "" {
		return req.options.Flow
	}
	return c.defaultFlow
}

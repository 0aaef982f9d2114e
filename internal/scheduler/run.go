package scheduler

import (
	"sync"
	"time"

	"github.com/aristath/composer/internal/events"
	"github.com/aristath/composer/internal/flow"
	"github.com/google/uuid"
)

// Run is the record of one engine invocation and the handle its caller
// waits on. It is safe for concurrent use.
type Run struct {
	ID        string
	Tasks     []string
	Flow      flow.Policy
	StartedAt time.Time

	done chan struct{}

	mu         sync.Mutex
	err        error
	errs       []error
	finishedAt time.Time
	steps      []*Step
	statuses   []Status
	contexts   []*RunContext
}

func newRun(tasks []string, policy flow.Policy) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Tasks:     tasks,
		Flow:      policy,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the run has reported its result.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run completes and returns its error.
func (r *Run) Wait() error {
	<-r.done
	return r.Err()
}

// Err returns the run's result. It is nil until Done is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Errors returns every task failure observed so far, in the order they were
// signalled. Parallel siblings that fail after the run has reported are
// still recorded here.
func (r *Run) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Steps returns the flattened plan.
func (r *Run) Steps() []*Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Step(nil), r.steps...)
}

// Status returns the status of the step with the given ID.
func (r *Run) Status(stepID int) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stepID < 0 || stepID >= len(r.statuses) {
		return ""
	}
	return r.statuses[stepID]
}

// Contexts returns the invocation records created so far, in start order.
func (r *Run) Contexts() []*RunContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RunContext(nil), r.contexts...)
}

// Duration returns the elapsed time, or the total time once done.
func (r *Run) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.finishedAt.Sub(r.StartedAt)
}

// Progress returns step counts for the run.
func (r *Run) Progress() events.RunProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressLocked()
}

func (r *Run) progressLocked() events.RunProgressEvent {
	p := events.RunProgressEvent{
		RunID:     r.ID,
		Total:     len(r.statuses),
		Timestamp: time.Now(),
	}
	for _, s := range r.statuses {
		switch s {
		case StatusPending:
			p.Pending++
		case StatusStarting:
			p.Running++
		case StatusFinished:
			p.Completed++
		case StatusErrored:
			p.Failed++
		}
	}
	return p
}

func (r *Run) setPlan(steps []*Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = steps
	r.statuses = make([]Status, len(steps))
	for i := range r.statuses {
		r.statuses[i] = StatusPending
	}
}

// transition records a step status change and returns the new progress.
func (r *Run) transition(rc *RunContext, status Status, err error) events.RunProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == StatusStarting {
		r.contexts = append(r.contexts, rc)
	}
	if id := rc.Step.ID; id >= 0 && id < len(r.statuses) {
		r.statuses[id] = status
	}
	if err != nil {
		r.errs = append(r.errs, err)
	}
	return r.progressLocked()
}

// finish stores the result and releases waiters. Only the first call has effect.
func (r *Run) finish(err error) bool {
	r.mu.Lock()
	if !r.finishedAt.IsZero() {
		r.mu.Unlock()
		return false
	}
	r.err = err
	r.finishedAt = time.Now()
	r.mu.Unlock()
	close(r.done)
	return true
}

// RunContext is the bookkeeping record of one task invocation within a run.
type RunContext struct {
	ID        string
	Task      Task
	Step      *Step
	Run       *Run
	Options   map[string]any
	StartedAt time.Time

	mu         sync.Mutex
	status     Status
	finishedAt time.Time
	err        error
}

func newRunContext(run *Run, step *Step) *RunContext {
	return &RunContext{
		ID:      uuid.NewString(),
		Task:    step.Task,
		Step:    step,
		Run:     run,
		Options: step.Options,
		status:  StatusPending,
	}
}

// Option returns a merged option value. It is safe to call on a nil context.
func (rc *RunContext) Option(key string) (any, bool) {
	if rc == nil || rc.Options == nil {
		return nil, false
	}
	v, ok := rc.Options[key]
	return v, ok
}

// TaskName returns the invoked task's name, or "" on a nil context.
func (rc *RunContext) TaskName() string {
	if rc == nil {
		return ""
	}
	return rc.Task.Name
}

// RunID returns the owning run's ID, or "" on a nil context.
func (rc *RunContext) RunID() string {
	if rc == nil || rc.Run == nil {
		return ""
	}
	return rc.Run.ID
}

// Status returns the invocation's current status.
func (rc *RunContext) Status() Status {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.status
}

// Err returns the invocation's error, if it failed.
func (rc *RunContext) Err() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.err
}

// Duration returns how long the body ran, or has been running.
func (rc *RunContext) Duration() time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.StartedAt.IsZero() {
		return 0
	}
	if rc.finishedAt.IsZero() {
		return time.Since(rc.StartedAt)
	}
	return rc.finishedAt.Sub(rc.StartedAt)
}

func (rc *RunContext) setStatus(status Status, err error) time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.status = status
	rc.err = err
	now := time.Now()
	if status == StatusStarting {
		rc.StartedAt = now
		return 0
	}
	rc.finishedAt = now
	return rc.finishedAt.Sub(rc.StartedAt)
}

func (rc *RunContext) event() events.RunContext {
	return events.RunContext{
		RunID:     rc.RunID(),
		ContextID: rc.ID,
		StepID:    rc.Step.ID,
		Options:   rc.Options,
		StartedAt: rc.StartedAt,
	}
}

package scheduler

import (
	"context"

	"github.com/aristath/composer/internal/flow"
)

// TaskFunc is the body of a task. It blocks until the work is done and
// reports failure through its return value. rc is nil when a composed
// function is called directly outside of a run.
type TaskFunc func(ctx context.Context, rc *RunContext) error

// Noop completes immediately. It is the body of tasks registered without one.
func Noop(context.Context, *RunContext) error { return nil }

// Callback adapts a body that signals completion by calling done exactly once.
// Calls to done after the first are ignored.
func Callback(fn func(ctx context.Context, rc *RunContext, done func(error))) TaskFunc {
	return func(ctx context.Context, rc *RunContext) error {
		result := make(chan error, 1)
		fn(ctx, rc, func(err error) {
			select {
			case result <- err:
			default:
			}
		})
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Future adapts a body that returns a channel yielding its result. A channel
// closed without a value counts as success.
func Future(fn func(ctx context.Context, rc *RunContext) <-chan error) TaskFunc {
	return func(ctx context.Context, rc *RunContext) error {
		result := fn(ctx, rc)
		if result == nil {
			return nil
		}
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RefKind tells which variant a Ref holds.
type RefKind int

const (
	RefInvalid RefKind = iota
	RefName            // a registered task, looked up at resolution time
	RefFunc            // an inline anonymous function
	RefNested          // a task definition that is not registered
)

func (k RefKind) String() string {
	switch k {
	case RefName:
		return "name"
	case RefFunc:
		return "func"
	case RefNested:
		return "nested"
	}
	return "invalid"
}

// AnonymousName is the name used for inline functions and unnamed nested tasks.
const AnonymousName = "anonymous"

// Ref is a reference to something runnable: a task name, an inline function
// or a nested task definition.
type Ref struct {
	kind RefKind
	name string
	fn   TaskFunc
	task *Task
}

// Name references a registered task.
func Name(name string) Ref {
	return Ref{kind: RefName, name: name}
}

// Func references an inline function that runs as an anonymous task.
func Func(fn TaskFunc) Ref {
	return Ref{kind: RefFunc, fn: fn}
}

// Nested references a task definition that is resolved in place.
func Nested(t Task) Ref {
	cp := t.clone()
	return Ref{kind: RefNested, task: &cp}
}

// Kind returns the variant held by r.
func (r Ref) Kind() RefKind { return r.kind }

// String returns the display name of the referenced task.
func (r Ref) String() string {
	switch r.kind {
	case RefName:
		return r.name
	case RefNested:
		if r.task.Name != "" {
			return r.task.Name
		}
	}
	return AnonymousName
}

// Options configures a task or a single run call.
type Options struct {
	// Flow composes the task's dependencies. Empty means series.
	Flow flow.Policy
	// Deps are appended after positional dependencies.
	Deps []Ref
	// Values are passed through to the running body via RunContext.Option.
	Values map[string]any
}

// Task is a named unit of work with its dependencies.
type Task struct {
	Name    string
	Deps    []Ref
	Flow    flow.Policy
	Options map[string]any
	Fn      TaskFunc
}

// DependencyNames returns the display names of t's dependencies in order.
func (t Task) DependencyNames() []string {
	names := make([]string, 0, len(t.Deps))
	for _, dep := range t.Deps {
		names = append(names, dep.String())
	}
	return names
}

func (t Task) clone() Task {
	cp := t
	if t.Deps != nil {
		cp.Deps = append([]Ref(nil), t.Deps...)
	}
	cp.Options = copyValues(t.Options)
	return cp
}

// Status is the lifecycle state of a single step within a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusFinished Status = "finished"
	StatusErrored  Status = "errored"
)

func copyValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// mergeValues returns base overridden by override. Neither input is modified.
func mergeValues(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

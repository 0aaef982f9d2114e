package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownTask is matched by every UnknownTaskError.
	ErrUnknownTask = errors.New("scheduler: unknown task")
	// ErrCyclicDependency is matched by every CyclicDependencyError.
	ErrCyclicDependency = errors.New("scheduler: cyclic dependency")
	// ErrInvalidArgument is matched by every InvalidArgumentError.
	ErrInvalidArgument = errors.New("scheduler: invalid argument")
	// ErrNoTasks is returned when a run or composition has nothing to do.
	ErrNoTasks = fmt.Errorf("%w: expected at least one task", ErrInvalidArgument)
	// ErrNoWatcher is returned by AddWatch when the composer has no Watcher.
	ErrNoWatcher = errors.New("scheduler: no watcher configured")
	// ErrClosed is returned by AddWatch after Close.
	ErrClosed = errors.New("scheduler: composer closed")
)

// UnknownTaskError reports a task name that is not registered.
type UnknownTaskError struct {
	Name   string
	Parent string // task that referenced Name, empty for top-level requests
}

func (e *UnknownTaskError) Error() string {
	if e.Parent != "" {
		return fmt.Sprintf("scheduler: task %q (dependency of %q) is not registered", e.Name, e.Parent)
	}
	return fmt.Sprintf("scheduler: task %q is not registered", e.Name)
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

// CyclicDependencyError reports a dependency chain that leads back to a task
// still being expanded. Path starts and ends with the same name.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "scheduler: cyclic dependency: " + strings.Join(e.Path, " -> ")
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// InvalidArgumentError reports a malformed registration or run call.
type InvalidArgumentError struct {
	Arg    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Arg == "" {
		return "scheduler: invalid argument: " + e.Reason
	}
	return fmt.Sprintf("scheduler: invalid argument %s: %s", e.Arg, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// TaskError wraps a failure signalled by a task body.
type TaskError struct {
	Task      string
	RunID     string
	ContextID string
	Err       error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// PanicError is a panic recovered from a task body.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduler: panic in task %s: %v", e.Task, e.Value)
}

func invalidArg(v any, reason string) error {
	return &InvalidArgumentError{Arg: fmt.Sprintf("%T", v), Reason: reason}
}

package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicRun   = "run"
	TopicWatch = "watch"
	TopicError = "error"
)

// Event type constants
const (
	EventTypeTaskStarting   = "task.starting"
	EventTypeTaskFinished   = "task.finished"
	EventTypeTaskError      = "task.error"
	EventTypeTaskOutput     = "task.output"
	EventTypeRunStarted     = "run.started"
	EventTypeRunFinished    = "run.finished"
	EventTypeRunProgress    = "run.progress"
	EventTypeWatchTriggered = "watch.triggered"
	EventTypeError          = "error"
)

// TaskInfo describes the task an event refers to.
type TaskInfo struct {
	Name         string
	Dependencies []string
	Flow         string
}

// RunContext identifies one invocation of a task within a run.
type RunContext struct {
	RunID     string
	ContextID string
	StepID    int
	Options   map[string]any
	StartedAt time.Time
}

// TaskStartingEvent is published just before a task body begins.
type TaskStartingEvent struct {
	Task      TaskInfo
	Run       RunContext
	Timestamp time.Time
}

func (e TaskStartingEvent) EventType() string { return EventTypeTaskStarting }
func (e TaskStartingEvent) TaskID() string    { return e.Task.Name }

// TaskFinishedEvent is published when a task body completes successfully.
type TaskFinishedEvent struct {
	Task      TaskInfo
	Run       RunContext
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) TaskID() string    { return e.Task.Name }

// TaskErrorEvent is published when a task body signals failure.
type TaskErrorEvent struct {
	Task      TaskInfo
	Run       RunContext
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskErrorEvent) EventType() string { return EventTypeTaskError }
func (e TaskErrorEvent) TaskID() string    { return e.Task.Name }

// TaskOutputEvent carries one line of output produced by a task body.
type TaskOutputEvent struct {
	Name      string
	RunID     string
	ContextID string
	Line      string
	Stderr    bool
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskID() string    { return e.Name }

// RunStartedEvent is published when a run begins executing its plan.
type RunStartedEvent struct {
	RunID     string
	Tasks     []string
	Flow      string
	Steps     int
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) TaskID() string    { return "" }

// RunFinishedEvent is published once a run has reported its result.
type RunFinishedEvent struct {
	RunID     string
	Tasks     []string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }

// RunProgressEvent is published whenever a step of a run changes status.
type RunProgressEvent struct {
	RunID     string
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskID() string    { return "" }

// WatchTriggeredEvent is published when a watch dispatches a run.
type WatchTriggeredEvent struct {
	Pattern   string
	Paths     []string
	Tasks     []string
	Coalesced int
	Timestamp time.Time
}

func (e WatchTriggeredEvent) EventType() string { return EventTypeWatchTriggered }
func (e WatchTriggeredEvent) TaskID() string    { return "" }

// ErrorEvent is published for run-level failures, including failed watch runs.
type ErrorEvent struct {
	RunID     string
	Source    string
	Err       error
	Timestamp time.Time
}

func (e ErrorEvent) EventType() string { return EventTypeError }
func (e ErrorEvent) TaskID() string    { return "" }

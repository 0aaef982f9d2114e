package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/composer/internal/events"
	"github.com/aristath/composer/internal/flow"
)

// execute resolves refs, compiles the steps with policy and runs them in the
// background. Resolution failures finish the returned Run before any task
// starts.
func (c *Composer) execute(ctx context.Context, policy flow.Policy, req runRequest) *Run {
	names := make([]string, 0, len(req.refs))
	for _, ref := range req.refs {
		names = append(names, ref.String())
	}
	run := newRun(names, policy)

	op, err := c.prepare(run, policy, req)
	if err != nil {
		run.finish(err)
		c.publish(events.TopicError, events.ErrorEvent{
			RunID:     run.ID,
			Source:    "resolve",
			Err:       err,
			Timestamp: time.Now(),
		})
		return run
	}

	c.publish(events.TopicRun, events.RunStartedEvent{
		RunID:     run.ID,
		Tasks:     run.Tasks,
		Flow:      string(policy),
		Steps:     len(run.Steps()),
		Timestamp: run.StartedAt,
	})
	c.publish(events.TopicRun, run.Progress())

	go func() {
		err := op(ctx)
		if !run.finish(err) {
			return
		}
		c.publish(events.TopicRun, events.RunFinishedEvent{
			RunID:     run.ID,
			Tasks:     run.Tasks,
			Err:       err,
			Duration:  run.Duration(),
			Timestamp: time.Now(),
		})
		if err != nil {
			c.publish(events.TopicError, events.ErrorEvent{
				RunID:     run.ID,
				Source:    "run",
				Err:       err,
				Timestamp: time.Now(),
			})
		}
	}()
	return run
}

// prepare resolves and compiles a run request into a single operation.
func (c *Composer) prepare(run *Run, policy flow.Policy, req runRequest) (flow.Operation, error) {
	if !policy.Valid() {
		return nil, &InvalidArgumentError{Arg: "flow", Reason: fmt.Sprintf("unknown policy %q", policy)}
	}
	if len(req.refs) == 0 {
		return nil, ErrNoTasks
	}

	steps, err := c.resolver.Resolve(req.refs, req.options.Values)
	if err != nil {
		return nil, err
	}
	run.setPlan(Flatten(steps))

	ops := make([]flow.Operation, 0, len(steps))
	for _, step := range steps {
		op, err := c.compile(run, step)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	op, err := flow.Compose(policy, c.limit, ops...)
	if errors.Is(err, flow.ErrEmpty) {
		return nil, ErrNoTasks
	}
	return op, err
}

// compile turns a step into an operation. Dependencies are composed with the
// step's own policy and always complete before the body starts.
func (c *Composer) compile(run *Run, step *Step) (flow.Operation, error) {
	body := func(ctx context.Context) error {
		return c.invoke(ctx, run, step)
	}
	if len(step.Deps) == 0 {
		return body, nil
	}

	depOps := make([]flow.Operation, 0, len(step.Deps))
	for _, dep := range step.Deps {
		op, err := c.compile(run, dep)
		if err != nil {
			return nil, err
		}
		depOps = append(depOps, op)
	}
	deps, err := flow.Compose(step.Flow, c.limit, depOps...)
	if err != nil {
		return nil, fmt.Errorf("compose dependencies of %q: %w", step.Name, err)
	}
	return flow.Compose(flow.Series, 0, deps, body)
}

// invoke runs a single step body, publishing its lifecycle events.
func (c *Composer) invoke(ctx context.Context, run *Run, step *Step) error {
	rc := newRunContext(run, step)
	info := events.TaskInfo{
		Name:         step.Name,
		Dependencies: step.DependencyNames(),
		Flow:         string(step.Flow),
	}

	rc.setStatus(StatusStarting, nil)
	progress := run.transition(rc, StatusStarting, nil)
	c.publish(events.TopicTask, events.TaskStartingEvent{
		Task:      info,
		Run:       rc.event(),
		Timestamp: rc.StartedAt,
	})
	c.publish(events.TopicRun, progress)

	err := call(ctx, step, rc)
	if err != nil {
		err = &TaskError{
			Task:      step.Name,
			RunID:     run.ID,
			ContextID: rc.ID,
			Err:       err,
		}
		elapsed := rc.setStatus(StatusErrored, err)
		progress = run.transition(rc, StatusErrored, err)
		c.publish(events.TopicTask, events.TaskErrorEvent{
			Task:      info,
			Run:       rc.event(),
			Err:       err,
			Duration:  elapsed,
			Timestamp: time.Now(),
		})
		c.publish(events.TopicRun, progress)
		return err
	}

	elapsed := rc.setStatus(StatusFinished, nil)
	progress = run.transition(rc, StatusFinished, nil)
	c.publish(events.TopicTask, events.TaskFinishedEvent{
		Task:      info,
		Run:       rc.event(),
		Duration:  elapsed,
		Timestamp: time.Now(),
	})
	c.publish(events.TopicRun, progress)
	return nil
}

// call runs the body and converts a panic into an error.
func call(ctx context.Context, step *Step, rc *RunContext) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Task: step.Name, Value: recovered}
		}
	}()
	return step.Fn(ctx, rc)
}

func (c *Composer) publish(topic string, event events.Event) {
	c.publisher.Publish(topic, event)
}

package tracing

import (
	"context"
	"strings"
	"time"

	"github.com/aristath/composer/internal/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Follower turns lifecycle events into spans: one span per run with a
// child span per task invocation. Spans carry the event timestamps, so
// they reflect when work happened rather than when the event was consumed.
type Follower struct {
	tracer trace.Tracer
	runs   map[string]trace.Span
	tasks  map[taskKey]trace.Span
}

type taskKey struct {
	run     string
	context string
}

// NewFollower creates a Follower that starts spans on tracer.
func NewFollower(tracer trace.Tracer) *Follower {
	return &Follower{
		tracer: tracer,
		runs:   make(map[string]trace.Span),
		tasks:  make(map[taskKey]trace.Span),
	}
}

// Follow handles events from sub until ctx is done or sub is closed, then
// ends any span still open.
func (f *Follower) Follow(ctx context.Context, sub <-chan events.Event) {
	defer f.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			f.Handle(ev)
		}
	}
}

// Handle applies a single event.
func (f *Follower) Handle(ev events.Event) {
	switch e := ev.(type) {
	case events.RunStartedEvent:
		_, span := f.tracer.Start(context.Background(), "run "+strings.Join(e.Tasks, ","),
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(
				attribute.String("composer.run_id", e.RunID),
				attribute.StringSlice("composer.tasks", e.Tasks),
				attribute.String("composer.flow", e.Flow),
				attribute.Int("composer.steps", e.Steps),
			),
		)
		f.runs[e.RunID] = span

	case events.RunFinishedEvent:
		span, ok := f.runs[e.RunID]
		if !ok {
			return
		}
		delete(f.runs, e.RunID)
		end(span, e.Err, e.Timestamp)

	case events.TaskStartingEvent:
		parent := context.Background()
		if runSpan, ok := f.runs[e.Run.RunID]; ok {
			parent = trace.ContextWithSpan(parent, runSpan)
		}
		_, span := f.tracer.Start(parent, e.Task.Name,
			trace.WithTimestamp(e.Run.StartedAt),
			trace.WithAttributes(
				attribute.String("composer.task", e.Task.Name),
				attribute.String("composer.context_id", e.Run.ContextID),
				attribute.Int("composer.step_id", e.Run.StepID),
				attribute.StringSlice("composer.deps", e.Task.Dependencies),
			),
		)
		f.tasks[taskKey{e.Run.RunID, e.Run.ContextID}] = span

	case events.TaskFinishedEvent:
		f.endTask(e.Run, nil, e.Run.StartedAt.Add(e.Duration))

	case events.TaskErrorEvent:
		f.endTask(e.Run, e.Err, e.Run.StartedAt.Add(e.Duration))

	case events.WatchTriggeredEvent:
		_, span := f.tracer.Start(context.Background(), "watch "+e.Pattern,
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(
				attribute.StringSlice("composer.paths", e.Paths),
				attribute.Int("composer.coalesced", e.Coalesced),
			),
		)
		span.End(trace.WithTimestamp(e.Timestamp))
	}
}

// Flush ends every open span.
func (f *Follower) Flush() {
	for key, span := range f.tasks {
		span.End()
		delete(f.tasks, key)
	}
	for id, span := range f.runs {
		span.End()
		delete(f.runs, id)
	}
}

func (f *Follower) endTask(rc events.RunContext, err error, at time.Time) {
	key := taskKey{rc.RunID, rc.ContextID}
	span, ok := f.tasks[key]
	if !ok {
		return
	}
	delete(f.tasks, key)
	end(span, err, at)
}

func end(span trace.Span, err error, at time.Time) {
	if err != nil {
		span.RecordError(err, trace.WithTimestamp(at))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(at))
}

// Follow records events from sub as spans on tracer until ctx is done or
// sub is closed.
func Follow(ctx context.Context, sub <-chan events.Event, tracer trace.Tracer) {
	NewFollower(tracer).Follow(ctx, sub)
}

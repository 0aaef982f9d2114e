package journal

import (
	"context"
	"errors"
	"log"

	"github.com/sony/gobreaker"

	"github.com/aristath/composer/internal/events"
)

// Follow records run and task events from sub until ctx is done or sub is
// closed. Write failures are logged and do not stop the follower.
func Follow(ctx context.Context, sub <-chan events.Event, store Store, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	w := NewWriter(store, DefaultRetryConfig(), logger)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			err := w.Write(ctx, ev)
			if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
				logger.Printf("WARNING: journal: %v", err)
			}
		}
	}
}

// Record writes a single event to store. Events the journal does not track
// are ignored.
func Record(ctx context.Context, store Store, ev events.Event) error {
	switch e := ev.(type) {
	case events.RunStartedEvent:
		return store.SaveRun(ctx, &RunRecord{
			ID:        e.RunID,
			Tasks:     e.Tasks,
			Flow:      e.Flow,
			Steps:     e.Steps,
			Status:    StatusRunning,
			StartedAt: e.Timestamp,
		})

	case events.RunFinishedEvent:
		return store.FinishRun(ctx, e.RunID, e.Err, e.Timestamp)

	case events.TaskStartingEvent:
		return store.SaveTaskRun(ctx, taskRecord(e.Task, e.Run, TaskStarting, nil))

	case events.TaskFinishedEvent:
		rec := taskRecord(e.Task, e.Run, TaskFinished, nil)
		rec.FinishedAt = e.Run.StartedAt.Add(e.Duration)
		return store.SaveTaskRun(ctx, rec)

	case events.TaskErrorEvent:
		rec := taskRecord(e.Task, e.Run, TaskErrored, e.Err)
		rec.FinishedAt = e.Run.StartedAt.Add(e.Duration)
		return store.SaveTaskRun(ctx, rec)
	}
	return nil
}

func taskRecord(info events.TaskInfo, rc events.RunContext, status string, err error) *TaskRecord {
	rec := &TaskRecord{
		RunID:     rc.RunID,
		ContextID: rc.ContextID,
		StepID:    rc.StepID,
		Name:      info.Name,
		Status:    status,
		StartedAt: rc.StartedAt,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

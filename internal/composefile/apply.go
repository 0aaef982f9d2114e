package composefile

import (
	"fmt"

	"github.com/aristath/composer/internal/flow"
	"github.com/aristath/composer/internal/scheduler"
	"github.com/aristath/composer/internal/shell"
)

// Apply registers every task of the file with c, using r to run commands,
// then validates the resulting registry.
func (f *File) Apply(c *scheduler.Composer, r *shell.Runner) error {
	for _, def := range f.Tasks {
		task, err := toTask(def, r)
		if err != nil {
			return err
		}
		if err := c.Add(task); err != nil {
			return fmt.Errorf("registering %q: %w", def.Name, err)
		}
	}
	if _, err := c.Registry().Validate(); err != nil {
		return err
	}
	return nil
}

// Watches registers the file's watches with c.
func (f *File) Watches(c *scheduler.Composer) ([]*scheduler.Trigger, error) {
	triggers := make([]*scheduler.Trigger, 0, len(f.Watch))
	for _, w := range f.Watch {
		policy, err := flow.ParsePolicy(w.Flow)
		if err != nil {
			return triggers, err
		}
		args := make([]any, 0, len(w.Tasks)+1)
		args = append(args, scheduler.Options{Flow: policy})
		for _, name := range w.Tasks {
			args = append(args, name)
		}
		t, err := c.AddWatch(w.Pattern, args...)
		if err != nil {
			return triggers, fmt.Errorf("watch %q: %w", w.Pattern, err)
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

func toTask(def *TaskDef, r *shell.Runner) (scheduler.Task, error) {
	policy, err := flow.ParsePolicy(def.Flow)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("task %q: %w", def.Name, err)
	}
	task := scheduler.Task{
		Name:    def.Name,
		Flow:    policy,
		Options: def.Options,
	}
	if def.Run != "" {
		task.Fn = r.Task(def.Run)
	}
	for _, dep := range def.Deps {
		if dep.Task == nil {
			task.Deps = append(task.Deps, scheduler.Name(dep.Name))
			continue
		}
		nested, err := toTask(dep.Task, r)
		if err != nil {
			return scheduler.Task{}, err
		}
		task.Deps = append(task.Deps, scheduler.Nested(nested))
	}
	return task, nil
}

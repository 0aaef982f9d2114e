package scheduler

import (
	"github.com/aristath/composer/internal/flow"
)

// Step is one resolved invocation: a task body together with the resolved
// steps of its dependencies. Steps are recomputed for every run.
type Step struct {
	ID      int // position in the flattened plan, starting at 0
	Name    string
	Task    Task
	Fn      TaskFunc
	Flow    flow.Policy // composes Deps
	Deps    []*Step
	Options map[string]any // registration options overridden by call options
}

// DependencyNames returns the names of the step's direct dependencies.
func (s *Step) DependencyNames() []string {
	names := make([]string, 0, len(s.Deps))
	for _, dep := range s.Deps {
		names = append(names, dep.Name)
	}
	return names
}

// Resolver expands references against a registry. It never modifies the registry.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve expands refs depth-first, left to right. Name references are looked
// up at call time and their dependencies expanded recursively; a name met
// again while it is still being expanded is reported as a
// CyclicDependencyError. callOptions override each step's registration
// options.
func (r *Resolver) Resolve(refs []Ref, callOptions map[string]any) ([]*Step, error) {
	res := &resolution{
		registry:    r.registry,
		callOptions: callOptions,
	}
	steps := make([]*Step, 0, len(refs))
	for _, ref := range refs {
		step, err := res.expand(ref, "")
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// resolution is the state of a single Resolve call.
type resolution struct {
	registry    *Registry
	callOptions map[string]any
	stack       []string // names currently being expanded
	nextID      int
}

func (res *resolution) expand(ref Ref, parent string) (*Step, error) {
	switch ref.kind {
	case RefFunc:
		if ref.fn == nil {
			return nil, &InvalidArgumentError{Arg: "func", Reason: "nil inline function"}
		}
		task := Task{Name: AnonymousName, Fn: ref.fn}
		return res.step(task, nil), nil

	case RefNested:
		task := ref.task.clone()
		if task.Name == "" {
			task.Name = AnonymousName
		}
		deps, err := res.expandAll(task.Deps, task.Name)
		if err != nil {
			return nil, err
		}
		return res.step(task, deps), nil

	case RefName:
		for i, name := range res.stack {
			if name == ref.name {
				path := append(append([]string(nil), res.stack[i:]...), ref.name)
				return nil, &CyclicDependencyError{Path: path}
			}
		}
		task, ok := res.registry.Get(ref.name)
		if !ok {
			return nil, &UnknownTaskError{Name: ref.name, Parent: parent}
		}

		res.stack = append(res.stack, ref.name)
		deps, err := res.expandAll(task.Deps, task.Name)
		res.stack = res.stack[:len(res.stack)-1]
		if err != nil {
			return nil, err
		}
		return res.step(task, deps), nil
	}
	return nil, &InvalidArgumentError{Arg: "ref", Reason: "zero reference"}
}

func (res *resolution) expandAll(refs []Ref, parent string) ([]*Step, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	steps := make([]*Step, 0, len(refs))
	for _, ref := range refs {
		step, err := res.expand(ref, parent)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// step assigns the next ID after the dependencies have taken theirs, so IDs
// follow Flatten order.
func (res *resolution) step(task Task, deps []*Step) *Step {
	fn := task.Fn
	if fn == nil {
		fn = Noop
	}
	s := &Step{
		ID:      res.nextID,
		Name:    task.Name,
		Task:    task,
		Fn:      fn,
		Flow:    policyOr(task.Flow, flow.Series),
		Deps:    deps,
		Options: mergeValues(task.Options, res.callOptions),
	}
	res.nextID++
	return s
}

// Flatten returns the plan in execution order for series composition:
// every step's dependencies come before the step itself.
func Flatten(steps []*Step) []*Step {
	var out []*Step
	var walk func(s *Step)
	walk = func(s *Step) {
		for _, dep := range s.Deps {
			walk(dep)
		}
		out = append(out, s)
	}
	for _, s := range steps {
		walk(s)
	}
	return out
}
